package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slog"
)

type overlayKey struct {
	collection string
	key        string
}

type overlayWrite struct {
	value   []byte
	indexes Indexes
	deleted bool
}

// Resilient оборачивает основное хранилище. Если запись в него не удалась,
// запись сохраняется в памяти, хранилище переходит в деградированный режим и
// накопленные записи переносятся в основное хранилище при следующей удачной операции.
type Resilient struct {
	primary Store
	log     *slog.Logger

	mu       sync.Mutex
	overlay  map[overlayKey]*overlayWrite
	order    []overlayKey
	degraded bool
}

func NewResilient(primary Store, log *slog.Logger) *Resilient {
	return &Resilient{
		primary: primary,
		log:     log.With(slog.String("component", "store")),
		overlay: make(map[overlayKey]*overlayWrite),
	}
}

// Degraded - есть записи, не попавшие в основное хранилище
func (r *Resilient) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// Pending число записей, ожидающих переноса
func (r *Resilient) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *Resilient) Put(ctx context.Context, collection, key string, value []byte, indexes Indexes) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flushLocked(ctx)

	if !r.degraded {
		err := r.primary.Put(ctx, collection, key, value, indexes)
		if err == nil {
			return nil
		}
		r.enterDegraded(err)
	}

	r.remember(overlayKey{collection, key}, &overlayWrite{value: append([]byte(nil), value...), indexes: copyIndexes(indexes)})
	return nil
}

func (r *Resilient) Delete(ctx context.Context, collection, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flushLocked(ctx)

	if !r.degraded {
		err := r.primary.Delete(ctx, collection, key)
		if err == nil {
			return nil
		}
		r.enterDegraded(err)
	}

	r.remember(overlayKey{collection, key}, &overlayWrite{deleted: true})
	return nil
}

func (r *Resilient) Get(ctx context.Context, collection, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.overlay[overlayKey{collection, key}]; ok {
		if w.deleted {
			return nil, ErrNotFound
		}
		return append([]byte(nil), w.value...), nil
	}

	v, err := r.primary.Get(ctx, collection, key)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrStorage) {
		err = fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return v, err
}

func (r *Resilient) List(ctx context.Context, collection string) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.primary.List(ctx, collection)
	if err != nil {
		return nil, wrapStorage(err)
	}
	return r.mergeLocked(collection, items, func(Indexes) bool { return true }), nil
}

func (r *Resilient) ListByIndex(ctx context.Context, collection, index, value string) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.primary.ListByIndex(ctx, collection, index, value)
	if err != nil {
		return nil, wrapStorage(err)
	}
	return r.mergeLocked(collection, items, func(ix Indexes) bool {
		v, ok := ix[index]
		return ok && v == value
	}), nil
}

func (r *Resilient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flushLocked(context.Background())
	if r.degraded {
		r.log.Error("хранилище закрывается с неперенесенными записями", slog.Int("pending", len(r.order)))
	}
	return r.primary.Close()
}

// Flush переносит накопленные записи в основное хранилище
func (r *Resilient) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.flushLocked(ctx)
}

func (r *Resilient) flushLocked(ctx context.Context) error {
	if !r.degraded {
		return nil
	}

	for len(r.order) > 0 {
		k := r.order[0]
		w := r.overlay[k]

		var err error
		if w.deleted {
			err = r.primary.Delete(ctx, k.collection, k.key)
		} else {
			err = r.primary.Put(ctx, k.collection, k.key, w.value, w.indexes)
		}
		if err != nil {
			return wrapStorage(err)
		}

		delete(r.overlay, k)
		r.order = r.order[1:]
	}

	r.degraded = false
	r.log.Info("хранилище восстановлено, накопленные записи перенесены")
	return nil
}

func (r *Resilient) enterDegraded(err error) {
	if !r.degraded {
		r.log.Warn("ошибка записи в хранилище, данные временно хранятся в памяти", slog.String("error", err.Error()))
	}
	r.degraded = true
}

func (r *Resilient) remember(k overlayKey, w *overlayWrite) {
	if _, ok := r.overlay[k]; ok {
		// перезапись сохраняет место в порядке переноса
		r.overlay[k] = w
		return
	}
	r.overlay[k] = w
	r.order = append(r.order, k)
}

// mergeLocked накладывает записи из памяти на результат основного хранилища
func (r *Resilient) mergeLocked(collection string, items []Item, match func(Indexes) bool) []Item {
	if len(r.order) == 0 {
		return items
	}

	seen := make(map[string]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		seen[it.Key] = struct{}{}
		w, ok := r.overlay[overlayKey{collection, it.Key}]
		switch {
		case !ok:
			out = append(out, it)
		case w.deleted || !match(w.indexes):
		default:
			out = append(out, Item{Key: it.Key, Value: append([]byte(nil), w.value...)})
		}
	}

	for _, k := range r.order {
		if k.collection != collection {
			continue
		}
		if _, ok := seen[k.key]; ok {
			continue
		}
		w := r.overlay[k]
		if !w.deleted && match(w.indexes) {
			out = append(out, Item{Key: k.key, Value: append([]byte(nil), w.value...)})
		}
	}
	return out
}

func wrapStorage(err error) error {
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
