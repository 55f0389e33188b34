package cache

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/cenkalti/backoff/v5"
	badger "github.com/dgraph-io/badger/v4"

	"github.com/strataquant/dslengine/errs"
)

// Badger is the persistent tier, backed by an embedded Badger key-value
// store. Transaction conflicts are retried with exponential backoff before
// giving up.
type Badger struct {
	db          *badger.DB
	maxAttempts int
}

// BadgerOption configures a Badger store.
type BadgerOption func(*Badger)

// WithMaxAttempts caps conflict retries per operation.
func WithMaxAttempts(n int) BadgerOption {
	return func(b *Badger) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

// NewBadger opens (or creates) a store at dir. An empty dir opens an
// in-memory store, which suits tests and single-run tools.
func NewBadger(dir string, opts ...BadgerOption) (*Badger, error) {
	options := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		options = options.WithInMemory(true)
	}
	db, err := badger.Open(options)
	if err != nil {
		return nil, errs.New("cache", errs.CodeUnavailable,
			errs.WithMessage("open badger store"), errs.WithCause(err))
	}
	b := &Badger{db: db, maxAttempts: 5}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// retry runs op, backing off and retrying while it reports a transaction
// conflict and the context stays live.
func (b *Badger) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	var err error
	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, badger.ErrConflict) {
			return err
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

// Get implements Store.
func (b *Badger) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.retry(ctx, func() error {
		return b.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(key))
			if err != nil {
				return err
			}
			value, err = item.ValueCopy(nil)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.New("cache", errs.CodeUnavailable,
			errs.WithMessage("badger get"), errs.WithCause(err))
	}
	return value, true, nil
}

// Set implements Store.
func (b *Badger) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := b.retry(ctx, func() error {
		return b.db.Update(func(txn *badger.Txn) error {
			entry := badger.NewEntry([]byte(key), value)
			if ttl > 0 {
				entry = entry.WithTTL(ttl)
			}
			return txn.SetEntry(entry)
		})
	})
	if err != nil {
		return errs.New("cache", errs.CodeUnavailable,
			errs.WithMessage("badger set"), errs.WithCause(err))
	}
	return nil
}

// Delete implements Store.
func (b *Badger) Delete(ctx context.Context, key string) error {
	err := b.retry(ctx, func() error {
		return b.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(key))
		})
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return errs.New("cache", errs.CodeUnavailable,
			errs.WithMessage("badger delete"), errs.WithCause(err))
	}
	return nil
}

// Exists implements Store.
func (b *Badger) Exists(_ context.Context, key string) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errs.New("cache", errs.CodeUnavailable,
			errs.WithMessage("badger exists"), errs.WithCause(err))
	}
	return true, nil
}

// DeletePattern implements Store. Keys are scanned with values prefetching
// disabled; matching ones are deleted in a second pass.
func (b *Badger) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, errs.New("cache", errs.CodeInvalid,
			errs.WithMessage("bad pattern "+pattern), errs.WithCause(err))
	}
	var matched [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if ok, _ := path.Match(pattern, string(key)); ok {
				matched = append(matched, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, errs.New("cache", errs.CodeUnavailable,
			errs.WithMessage("badger scan"), errs.WithCause(err))
	}
	removed := 0
	for _, key := range matched {
		if err := b.Delete(ctx, string(key)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Close implements Store.
func (b *Badger) Close() error {
	return b.db.Close()
}
