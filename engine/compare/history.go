package compare

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/WessleyAI/wessley-compare/engine/domain"
	"github.com/WessleyAI/wessley-compare/pkg/repo"
)

// Record is a stored comparison.
type Record struct {
	ID int64 `json:"id"`
	domain.Comparison
}

// History stores completed comparisons in a repository and gives each one an
// increasing ID. It is a Publisher, so it can sit next to NATS in a Fanout.
type History struct {
	repo repo.Repository[Record, int64]
	seq  atomic.Int64
}

// NewHistory keeps up to capacity comparisons in memory; 0 keeps all.
func NewHistory(capacity int) *History {
	return NewHistoryIn(repo.NewMemory("comparison",
		func(r Record) int64 { return r.ID },
		repo.WithCapacity[Record, int64](capacity),
	), 0)
}

// NewHistoryIn stores comparisons in r, numbering them from after.
func NewHistoryIn(r repo.Repository[Record, int64], after int64) *History {
	h := &History{repo: r}
	h.seq.Store(after)
	return h
}

// Publish stores c.
func (h *History) Publish(ctx context.Context, c domain.Comparison) error {
	_, err := h.repo.Create(ctx, Record{ID: h.seq.Add(1), Comparison: c})
	return err
}

// Recent returns up to n records, newest first. n <= 0 returns the
// repository's default page.
func (h *History) Recent(ctx context.Context, n int) ([]Record, error) {
	return h.repo.List(ctx, repo.ListOpts{Limit: n, Newest: true})
}

type fanout []Publisher

// Fanout publishes to every non-nil publisher and joins their errors.
func Fanout(pubs ...Publisher) Publisher {
	var f fanout
	for _, p := range pubs {
		if p != nil {
			f = append(f, p)
		}
	}
	return f
}

func (f fanout) Publish(ctx context.Context, c domain.Comparison) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
