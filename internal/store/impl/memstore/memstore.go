// Package memstore keeps fixes and vehicles in memory. It backs the
// service when no database is configured and the HTTP tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	fixes    []fix.Fix
	limit    int
	vehicles map[int64]fix.Vehicle
	nextID   int64
}

// New returns an empty store. When limit is positive only the newest
// limit fixes are retained.
func New(limit int) *Store {
	return &Store{limit: limit, vehicles: make(map[int64]fix.Vehicle)}
}

func (s *Store) Save(ctx context.Context, f fix.Fix) error {
	return s.SaveBatch(ctx, []fix.Fix{f})
}

func (s *Store) SaveBatch(ctx context.Context, fixes []fix.Fix) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.fixes = append(s.fixes, fixes...)
	if s.limit > 0 && len(s.fixes) > s.limit {
		s.fixes = append([]fix.Fix(nil), s.fixes[len(s.fixes)-s.limit:]...)
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) Latest(ctx context.Context, n int) ([]fix.Fix, error) {
	if n <= 0 {
		n = store.DefaultLatestCount
	}
	s.mu.RLock()
	out := append([]fix.Fix(nil), s.fixes...)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *Store) ByDeviceAndRange(ctx context.Context, deviceID string, from, to time.Time) ([]fix.Fix, error) {
	s.mu.RLock()
	out := make([]fix.Fix, 0)
	for _, f := range s.fixes {
		if f.DeviceID == deviceID && !f.Timestamp.Before(from) && !f.Timestamp.After(to) {
			out = append(out, f)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) LatestByDevice(ctx context.Context, deviceID string) (fix.Fix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  fix.Fix
		found bool
	)
	for _, f := range s.fixes {
		if f.DeviceID != deviceID {
			continue
		}
		if !found || !f.ReceivedAt.Before(best.ReceivedAt) {
			best, found = f, true
		}
	}
	if !found {
		return fix.Fix{}, store.ErrNotFound
	}
	return best, nil
}

func (s *Store) CreateVehicle(ctx context.Context, v *fix.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.vehicles {
		if o.DeviceID == v.DeviceID {
			return store.ErrDuplicate
		}
	}
	s.nextID++
	v.ID = s.nextID
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	s.vehicles[v.ID] = *v
	return nil
}

func (s *Store) Vehicle(ctx context.Context, id int64) (fix.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return fix.Vehicle{}, store.ErrNotFound
	}
	return v, nil
}

func (s *Store) VehicleByDevice(ctx context.Context, deviceID string) (fix.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.vehicles {
		if v.DeviceID == deviceID {
			return v, nil
		}
	}
	return fix.Vehicle{}, store.ErrNotFound
}

func (s *Store) Vehicles(ctx context.Context) ([]fix.Vehicle, error) {
	s.mu.RLock()
	out := make([]fix.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		out = append(out, v)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateVehicle(ctx context.Context, v fix.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.vehicles[v.ID]
	if !ok {
		return store.ErrNotFound
	}
	for id, o := range s.vehicles {
		if id != v.ID && o.DeviceID == v.DeviceID {
			return store.ErrDuplicate
		}
	}
	v.CreatedAt = old.CreatedAt
	s.vehicles[v.ID] = v
	return nil
}

func (s *Store) DeleteVehicle(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.vehicles, id)
	return nil
}

func (s *Store) Close() {}
