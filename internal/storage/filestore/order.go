// Package filestore implements order storage as one JSON document per order
// in a local directory.
package filestore

import (
	"context"
	"encoding/json"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/merch-checkout/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

const (
	recordExt  = ".json"
	tempPrefix = ".tmp-"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// OrderRepository stores orders as <dir>/<id>.json.
type OrderRepository struct {
	dir     string
	syncDir func(dir string) error
}

// NewOrderRepository creates dir if needed and returns a repository rooted
// at it.
func NewOrderRepository(dir string) (*OrderRepository, error) {
	if dir == "" {
		return nil, errors.New("order directory required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "create order directory")
	}
	return &OrderRepository{dir: dir, syncDir: syncDir}, nil
}

// Dir returns the storage directory.
func (r *OrderRepository) Dir() string {
	return r.dir
}

// Create writes o atomically. The record becomes visible through a hard
// link, which fails if a record with the same id already exists. A record
// whose directory entry cannot be synced is removed again, so a failed
// Create never leaves a visible order behind.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !idPattern.MatchString(o.ID) {
		return errors.Errorf("invalid order id %q", o.ID)
	}

	data, err := json.Marshal(o)
	if err != nil {
		return errors.Wrap(err, "marshal order")
	}

	tmp, err := os.CreateTemp(r.dir, tempPrefix+"*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}

	if err := os.Link(tmpName, r.path(o.ID)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return errors.Wrapf(order.ErrDuplicateOrderID, "order %s", o.ID)
		}
		return errors.Wrap(err, "link order file")
	}

	if err := r.syncDir(r.dir); err != nil {
		if rmErr := os.Remove(r.path(o.ID)); rmErr != nil {
			return errors.Wrapf(err, "remove unsynced order %s: %v", o.ID, rmErr)
		}
		return err
	}
	return nil
}

// Get reads the order stored under id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !idPattern.MatchString(id) {
		return nil, errors.Wrapf(order.ErrNotFound, "order %q", id)
	}

	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(order.ErrNotFound, "order %s", id)
		}
		return nil, errors.Wrapf(err, "read order %s", id)
	}

	var o order.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, errors.Wrapf(err, "decode order %s", id)
	}
	return &o, nil
}

// List yields summaries newest first. Order ids are time ordered, so the
// directory listing is sorted by name and each record is read on demand.
func (r *OrderRepository) List(ctx context.Context) iter.Seq2[order.Summary, error] {
	return func(yield func(order.Summary, error) bool) {
		entries, err := os.ReadDir(r.dir)
		if err != nil {
			yield(order.Summary{}, errors.Wrap(err, "read order directory"))
			return
		}

		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, recordExt) {
				continue
			}
			ids = append(ids, strings.TrimSuffix(name, recordExt))
		}
		slices.Sort(ids)
		slices.Reverse(ids)

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(order.Summary{}, err)
				return
			}
			data, err := os.ReadFile(r.path(id))
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				yield(order.Summary{}, errors.Wrapf(err, "read order %s", id))
				return
			}
			// Unknown fields such as the address are skipped by the decoder.
			var sum order.Summary
			if err := json.Unmarshal(data, &sum); err != nil {
				yield(order.Summary{}, errors.Wrapf(err, "decode order %s", id))
				return
			}
			if !yield(sum, nil) {
				return
			}
		}
	}
}

// Ping checks that the directory is still accessible.
func (r *OrderRepository) Ping(context.Context) error {
	info, err := os.Stat(r.dir)
	if err != nil {
		return errors.Wrap(err, "stat order directory")
	}
	if !info.IsDir() {
		return errors.Errorf("%s is not a directory", r.dir)
	}
	return nil
}

func (r *OrderRepository) path(id string) string {
	return filepath.Join(r.dir, id+recordExt)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrap(err, "open order directory")
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil {
		return errors.Wrap(err, "sync order directory")
	}
	return nil
}
