package handler

import (
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/merch-checkout/internal/domain/order"
)

// flushEvery is the number of streamed summaries between flushes.
const flushEvery = 100

type displayAmount struct {
	Currency   string `json:"currency"`
	TotalCents int64  `json:"totalCents"`
}

type checkoutResponse struct {
	ID               string        `json:"id"`
	Status           order.Status  `json:"status"`
	TotalCents       int64         `json:"totalCents"`
	SubtotalCents    int64         `json:"subtotalCents"`
	ShippingCents    int64         `json:"shippingCents"`
	ExternalOrderRef string        `json:"externalOrderRef,omitempty"`
	Display          displayAmount `json:"display"`
}

// Checkout handles POST /api/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req order.CheckoutRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, order.KindInvalidPayload, err.Error())
		return
	}

	result, err := h.orders.Checkout(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	o := result.Order
	writeJSON(w, http.StatusOK, checkoutResponse{
		ID:               o.ID,
		Status:           o.Status,
		TotalCents:       o.TotalCents,
		SubtotalCents:    o.SubtotalCents,
		ShippingCents:    o.ShippingCents,
		ExternalOrderRef: o.ExternalOrderRef,
		Display: displayAmount{
			Currency:   o.DisplayCurrency,
			TotalCents: result.DisplayTotalCents,
		},
	})
}

// decodeBody reads a single JSON value into dst. Fields unknown to dst are
// rejected.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var (
			maxErr  *http.MaxBytesError
			typeErr *json.UnmarshalTypeError
		)
		switch {
		case errors.As(err, &maxErr):
			return errors.New("request body too large")
		case errors.Is(err, io.EOF):
			return errors.New("request body required")
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return errors.New(strings.TrimPrefix(err.Error(), "json: "))
		case errors.As(err, &typeErr) && typeErr.Field != "":
			return errors.Errorf("field %s: expected %s", typeErr.Field, typeErr.Type)
		default:
			return errors.New("malformed JSON body")
		}
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// GetOrder handles GET /admin/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListOrders handles GET /admin/orders. Summaries are streamed as a JSON
// array; a storage failure after the first element aborts the response.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	next, stop := iter.Pull2(h.orders.List(ctx))
	defer stop()

	sum, err, ok := next()
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	var e jx.Encoder
	buf := append(make([]byte, 0, 256), '[')
	for n := 0; ok; n++ {
		if n > 0 {
			buf = append(buf, ',')
		}
		e.Reset()
		encodeSummary(&e, sum)
		buf = append(buf, e.Bytes()...)
		if _, werr := w.Write(buf); werr != nil {
			return
		}
		buf = buf[:0]
		if n%flushEvery == flushEvery-1 {
			_ = rc.Flush()
		}

		sum, err, ok = next()
		if err != nil {
			zctx.From(ctx).Error("Order listing aborted", zap.Error(err))
			panic(http.ErrAbortHandler)
		}
	}
	_, _ = w.Write(append(buf, ']'))
}

func encodeSummary(e *jx.Encoder, s order.Summary) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(s.ID) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(s.CreatedAt.UTC().Format(time.RFC3339Nano)) })
		e.Field("totalCents", func(e *jx.Encoder) { e.Int64(s.TotalCents) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(s.Status)) })
	})
}
