// Package store defines the persistence collaborators used by the writer
// and the HTTP API.
package store

import (
	"context"
	"errors"
	"time"

	"nuha.dev/tcpgps/internal/fix"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

const DefaultLatestCount = 100

// FixStore persists decoded fixes.
type FixStore interface {
	Save(ctx context.Context, f fix.Fix) error
	// Latest returns the n most recently received fixes, newest first.
	Latest(ctx context.Context, n int) ([]fix.Fix, error)
	// ByDeviceAndRange returns the fixes of deviceID whose device timestamp
	// lies in [from, to], oldest first.
	ByDeviceAndRange(ctx context.Context, deviceID string, from, to time.Time) ([]fix.Fix, error)
	// LatestByDevice returns the most recently received fix of deviceID or
	// ErrNotFound.
	LatestByDevice(ctx context.Context, deviceID string) (fix.Fix, error)
}

// BatchSaver is implemented by stores with a bulk insert path.
type BatchSaver interface {
	SaveBatch(ctx context.Context, fixes []fix.Fix) error
}

type VehicleStore interface {
	CreateVehicle(ctx context.Context, v *fix.Vehicle) error
	Vehicle(ctx context.Context, id int64) (fix.Vehicle, error)
	VehicleByDevice(ctx context.Context, deviceID string) (fix.Vehicle, error)
	Vehicles(ctx context.Context) ([]fix.Vehicle, error)
	UpdateVehicle(ctx context.Context, v fix.Vehicle) error
	DeleteVehicle(ctx context.Context, id int64) error
}

// Store is a backend serving both fixes and vehicles.
type Store interface {
	FixStore
	VehicleStore
	Close()
}
