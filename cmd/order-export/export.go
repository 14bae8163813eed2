package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/merch-checkout/internal/domain/order"
)

const progressEvery = 1000

// exportOrders writes every order of repo to w as JSON lines. Summaries are
// listed once, full orders are loaded by workers and a single writer
// serializes the output, so line order is not defined.
func exportOrders(ctx context.Context, repo order.Repository, w io.Writer, workers int) (int, error) {
	if workers < 1 {
		workers = 1
	}

	ids := make(chan string, workers)
	orders := make(chan *order.Order, workers)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(ids)
		for sum, err := range repo.List(ctx) {
			if err != nil {
				return errors.Wrap(err, "list orders")
			}
			select {
			case ids <- sum.ID:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	readers, rctx := errgroup.WithContext(ctx)
	for range workers {
		readers.Go(func() error {
			for id := range ids {
				o, err := repo.Get(rctx, id)
				if err != nil {
					return errors.Wrapf(err, "read order %s", id)
				}
				select {
				case orders <- o:
				case <-rctx.Done():
					return rctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(orders)
		return readers.Wait()
	})

	var written int
	g.Go(func() error {
		bw := bufio.NewWriter(w)
		enc := json.NewEncoder(bw)
		for o := range orders {
			if err := enc.Encode(o); err != nil {
				return errors.Wrapf(err, "write order %s", o.ID)
			}
			written++
			if written%progressEvery == 0 {
				slog.Info("export progress", slog.Int("orders", written))
			}
		}
		if err := bw.Flush(); err != nil {
			return errors.Wrap(err, "flush output")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return written, err
	}
	return written, nil
}
