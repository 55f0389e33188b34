package cache

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/strataquant/dslengine/errs"
)

// Tiered layers a fast local tier over a persistent one. Reads go through L1
// first and backfill it on an L2 hit; writes land in both. The persistent
// tier is optional: with a nil L2 the store degrades to plain LRU caching.
type Tiered struct {
	l1 Store
	l2 Store
	// ttl applied when backfilling L1 from an L2 hit.
	backfillTTL time.Duration
}

// TieredOption configures a Tiered store.
type TieredOption func(*Tiered)

// WithBackfillTTL sets the L1 ttl used when promoting an L2 hit.
func WithBackfillTTL(ttl time.Duration) TieredOption {
	return func(t *Tiered) { t.backfillTTL = ttl }
}

// NewTiered composes the two tiers. l2 may be nil.
func NewTiered(l1, l2 Store, opts ...TieredOption) (*Tiered, error) {
	if l1 == nil {
		return nil, errs.New("cache", errs.CodeInvalid,
			errs.WithMessage("tiered cache requires a local tier"))
	}
	t := &Tiered{l1: l1, l2: l2, backfillTTL: time.Hour}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Get implements Store.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := t.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return value, true, nil
	}
	if t.l2 == nil {
		return nil, false, nil
	}
	value, ok, err = t.l2.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	// Promotion failure only costs the next read a second trip.
	_ = t.l1.Set(ctx, key, value, t.backfillTTL)
	return value, true, nil
}

// Set implements Store.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if t.l2 == nil {
		return nil
	}
	return t.l2.Set(ctx, key, value, ttl)
}

// Delete implements Store.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	if err := t.l1.Delete(ctx, key); err != nil {
		return err
	}
	if t.l2 == nil {
		return nil
	}
	return t.l2.Delete(ctx, key)
}

// Exists implements Store.
func (t *Tiered) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := t.l1.Exists(ctx, key)
	if err != nil || ok {
		return ok, err
	}
	if t.l2 == nil {
		return false, nil
	}
	return t.l2.Exists(ctx, key)
}

// DeletePattern implements Store, sweeping both tiers concurrently.
func (t *Tiered) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if t.l2 == nil {
		return t.l1.DeletePattern(ctx, pattern)
	}
	var l1Removed, l2Removed int
	p := pool.New().WithErrors().WithContext(ctx)
	p.Go(func(ctx context.Context) error {
		n, err := t.l1.DeletePattern(ctx, pattern)
		l1Removed = n
		return err
	})
	p.Go(func(ctx context.Context) error {
		n, err := t.l2.DeletePattern(ctx, pattern)
		l2Removed = n
		return err
	})
	if err := p.Wait(); err != nil {
		return l1Removed + l2Removed, err
	}
	return l1Removed + l2Removed, nil
}

// Close implements Store, closing both tiers.
func (t *Tiered) Close() error {
	err := t.l1.Close()
	if t.l2 != nil {
		if err2 := t.l2.Close(); err == nil {
			err = err2
		}
	}
	return err
}
