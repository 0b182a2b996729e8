package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fleetsync/internal/config"
	"fleetsync/internal/logger"
	"fleetsync/internal/store"
	syncpkg "fleetsync/internal/sync"
)

// Facade routes every read and write for the fleet entities. Reads share one
// policy: offline means cache, online means remote with the result written
// back to the cache, and a failed remote call degrades to the cache before
// surfacing an error.
type Facade struct {
	store       store.Store
	backend     syncpkg.Backend
	coord       *syncpkg.Coordinator
	cacheMaxAge time.Duration
}

func NewFacade(st store.Store, be syncpkg.Backend, coord *syncpkg.Coordinator, cfg config.SyncConfig) *Facade {
	return &Facade{
		store:       st,
		backend:     be,
		coord:       coord,
		cacheMaxAge: cfg.GetCacheMaxAge(),
	}
}

// --- Reads ---

func (f *Facade) GetCars(ctx context.Context) ([]Car, error) {
	return fetchList[Car](ctx, f, KeyCars)
}

// GetAvailableCars filters the cars snapshot down to bookable vehicles.
func (f *Facade) GetAvailableCars(ctx context.Context) ([]Car, error) {
	cars, err := f.GetCars(ctx)
	if err != nil {
		return nil, err
	}
	available := make([]Car, 0, len(cars))
	for _, c := range cars {
		if c.Status == CarAvailable {
			available = append(available, c)
		}
	}
	return available, nil
}

func (f *Facade) GetRentals(ctx context.Context) ([]Rental, error) {
	return fetchList[Rental](ctx, f, KeyRentals)
}

// GetTodayRentals returns rentals that start or end today.
func (f *Facade) GetTodayRentals(ctx context.Context) ([]Rental, error) {
	rentals, err := f.GetRentals(ctx)
	if err != nil {
		return nil, err
	}
	today := todayDate()
	out := make([]Rental, 0, len(rentals))
	for _, r := range rentals {
		if r.StartDate == today || r.EndDate == today {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetCustomers returns the customer roll-up derived from rentals. The
// computed list is cached under its own key for offline reuse.
func (f *Facade) GetCustomers(ctx context.Context) ([]Customer, error) {
	return fetchDerived(ctx, f, KeyCustomers, func(ctx context.Context) ([]Customer, error) {
		rentals, err := f.freshRentals(ctx)
		if err != nil {
			return nil, err
		}
		return deriveCustomers(rentals), nil
	})
}

// GetDashboardStats computes dashboard counts from the freshest cars and
// rentals snapshots.
func (f *Facade) GetDashboardStats(ctx context.Context) (DashboardStats, error) {
	stats, err := fetchDerived(ctx, f, KeyDashboard, func(ctx context.Context) (*DashboardStats, error) {
		cars, err := f.freshCars(ctx)
		if err != nil {
			return nil, err
		}
		rentals, err := f.freshRentals(ctx)
		if err != nil {
			return nil, err
		}
		s := deriveDashboardStats(cars, rentals)
		return &s, nil
	})
	if err != nil || stats == nil {
		return DashboardStats{}, err
	}
	return *stats, nil
}

// GetPayments returns the rentals with payment info plus aggregate stats.
func (f *Facade) GetPayments(ctx context.Context) (PaymentsSnapshot, error) {
	snap, err := fetchDerived(ctx, f, KeyPayments, func(ctx context.Context) (*PaymentsSnapshot, error) {
		rentals, err := f.freshRentals(ctx)
		if err != nil {
			return nil, err
		}
		s := derivePayments(rentals)
		return &s, nil
	})
	if err != nil || snap == nil {
		return PaymentsSnapshot{}, err
	}
	return *snap, nil
}

// --- Writes ---

func (f *Facade) CreateCar(ctx context.Context, car *Car) (syncpkg.QueueResult, error) {
	return f.coord.QueueAction(ctx, store.ActionInsert, KeyCars, car, syncpkg.QueueOptions{})
}

func (f *Facade) UpdateCar(ctx context.Context, id int64, patch map[string]any) (syncpkg.QueueResult, error) {
	return f.update(ctx, KeyCars, id, patch)
}

func (f *Facade) DeleteCar(ctx context.Context, id int64) (syncpkg.QueueResult, error) {
	return f.coord.QueueAction(ctx, store.ActionDelete, KeyCars, map[string]any{"id": id}, syncpkg.QueueOptions{})
}

func (f *Facade) CreateRental(ctx context.Context, rental *Rental) (syncpkg.QueueResult, error) {
	return f.coord.QueueAction(ctx, store.ActionInsert, KeyRentals, rental, syncpkg.QueueOptions{})
}

func (f *Facade) UpdateRental(ctx context.Context, id int64, patch map[string]any) (syncpkg.QueueResult, error) {
	return f.update(ctx, KeyRentals, id, patch)
}

func (f *Facade) update(ctx context.Context, resource string, id int64, patch map[string]any) (syncpkg.QueueResult, error) {
	if id == 0 {
		return syncpkg.QueueResult{}, fmt.Errorf("update %s: id is required", resource)
	}
	payload := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		payload[k] = v
	}
	payload["id"] = id
	return f.coord.QueueAction(ctx, store.ActionUpdate, resource, payload, syncpkg.QueueOptions{})
}

// WarmCache refreshes the cached datasets from the backend, skipping any
// whose snapshot is still within the configured max age. Used by the
// scheduler while online.
func (f *Facade) WarmCache(ctx context.Context) error {
	refreshers := []struct {
		key     string
		refresh func(context.Context) error
	}{
		{KeyCars, func(ctx context.Context) error { _, err := f.GetCars(ctx); return err }},
		{KeyRentals, func(ctx context.Context) error { _, err := f.GetRentals(ctx); return err }},
		{KeyCustomers, func(ctx context.Context) error { _, err := f.GetCustomers(ctx); return err }},
		{KeyDashboard, func(ctx context.Context) error { _, err := f.GetDashboardStats(ctx); return err }},
		{KeyPayments, func(ctx context.Context) error { _, err := f.GetPayments(ctx); return err }},
	}

	for _, r := range refreshers {
		fresh, err := f.store.CacheGetFresh(ctx, r.key, f.cacheMaxAge)
		if err != nil {
			return err
		}
		if fresh != nil {
			continue
		}
		if err := r.refresh(ctx); err != nil {
			return err
		}
	}
	return nil
}

// --- Shared read policy ---

// fetchList implements the primary-resource read path for a listable
// resource whose cache key doubles as its backend collection name.
func fetchList[T any](ctx context.Context, f *Facade, key string) ([]T, error) {
	if !f.coord.IsOnline() {
		return readCachedList[T](ctx, f, key)
	}

	raw, err := f.backend.List(ctx, key, nil)
	if err != nil {
		logger.Log.Warn("Remote fetch failed, falling back to cache",
			zap.String("resource", key),
			zap.Error(err),
		)
		entry, cacheErr := f.store.CacheGet(ctx, key)
		if cacheErr == nil && entry != nil {
			return decodeList[T](entry.Value, key)
		}
		return nil, err
	}

	items, err := decodeList[T](raw, key)
	if err != nil {
		return nil, err
	}
	if err := f.store.CacheSet(ctx, key, raw); err != nil {
		return nil, err
	}
	return items, nil
}

// fetchDerived implements the read path for computed views: offline serves
// the cached result, online recomputes and re-caches it, and a failed
// recompute degrades to the cached result.
func fetchDerived[T any](ctx context.Context, f *Facade, key string, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if !f.coord.IsOnline() {
		entry, err := f.store.CacheGet(ctx, key)
		if err != nil {
			return zero, err
		}
		if entry == nil {
			return zero, nil
		}
		var out T
		if err := json.Unmarshal(entry.Value, &out); err != nil {
			return zero, fmt.Errorf("decode cached %s: %w", key, err)
		}
		return out, nil
	}

	out, err := compute(ctx)
	if err != nil {
		logger.Log.Warn("Failed to compute derived view, falling back to cache",
			zap.String("key", key),
			zap.Error(err),
		)
		entry, cacheErr := f.store.CacheGet(ctx, key)
		if cacheErr == nil && entry != nil {
			var cached T
			if decodeErr := json.Unmarshal(entry.Value, &cached); decodeErr == nil {
				return cached, nil
			}
		}
		return zero, err
	}

	if err := f.store.CacheSet(ctx, key, out); err != nil {
		return zero, err
	}
	return out, nil
}

func readCachedList[T any](ctx context.Context, f *Facade, key string) ([]T, error) {
	entry, err := f.store.CacheGet(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		// Offline with nothing cached yet: an empty snapshot, not an error.
		return []T{}, nil
	}
	return decodeList[T](entry.Value, key)
}

func decodeList[T any](raw json.RawMessage, key string) ([]T, error) {
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// freshCars and freshRentals feed the derived views with the freshest
// available primary data: remote when reachable, cached otherwise.
func (f *Facade) freshCars(ctx context.Context) ([]Car, error) {
	return fetchList[Car](ctx, f, KeyCars)
}

func (f *Facade) freshRentals(ctx context.Context) ([]Rental, error) {
	return fetchList[Rental](ctx, f, KeyRentals)
}
