package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/merch-checkout/internal/domain/order"
	"github.com/xenking/merch-checkout/pkg/httpmiddleware"
)

var kindStatus = map[order.Kind]int{
	order.KindInvalidPayload:        http.StatusBadRequest,
	order.KindUnknownShippingMethod: http.StatusBadRequest,
	order.KindExternalProvider:      http.StatusBadGateway,
	order.KindDuplicateOrderID:      http.StatusInternalServerError,
	order.KindStorage:               http.StatusInternalServerError,
	order.KindNotFound:              http.StatusNotFound,
	order.KindUnauthorized:          http.StatusUnauthorized,
}

// statusOf maps an error kind to its HTTP status.
func statusOf(kind order.Kind) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, kind order.Kind, message string) {
	writeJSON(w, status, httpmiddleware.ErrorBody{Kind: string(kind), Message: message})
}

// writeDomainError writes err as a {kind, message} body. Only messages of
// classified errors reach the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := order.KindOf(err)
	message := "internal error"
	var e *order.Error
	if errors.As(err, &e) {
		message = e.Message
	}
	if kind == "" {
		kind = order.KindStorage
		if id := httpmiddleware.RequestIDFromContext(r.Context()); id != "" {
			message += " (request " + id + ")"
		}
	}

	status := statusOf(kind)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("kind", string(kind)),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeError(w, status, kind, message)
}
