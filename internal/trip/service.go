package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/store"
)

// Service runs the trip functions over a vehicle's stored history.
type Service struct {
	vehicles store.VehicleStore
	fixes    store.FixStore
}

func NewService(vehicles store.VehicleStore, fixes store.FixStore) *Service {
	return &Service{vehicles: vehicles, fixes: fixes}
}

func (s *Service) history(ctx context.Context, vehicleID int64, from, to time.Time) (fix.Vehicle, []fix.Fix, error) {
	v, err := s.vehicles.Vehicle(ctx, vehicleID)
	if errors.Is(err, store.ErrNotFound) {
		return v, nil, fmt.Errorf("%w: vehicle %d", ErrEntityNotFound, vehicleID)
	}
	if err != nil {
		return v, nil, err
	}
	points, err := s.fixes.ByDeviceAndRange(ctx, v.DeviceID, from, to)
	if err != nil {
		return v, nil, err
	}
	return v, points, nil
}

func (s *Service) Statistics(ctx context.Context, vehicleID int64, from, to time.Time, minStopMinutes float64) (Statistics, error) {
	_, points, err := s.history(ctx, vehicleID, from, to)
	if err != nil {
		return Statistics{}, err
	}
	return ComputeStatistics(points, minStopMinutes), nil
}

func (s *Service) Stops(ctx context.Context, vehicleID int64, from, to time.Time, minStopMinutes float64) ([]StopInterval, error) {
	_, points, err := s.history(ctx, vehicleID, from, to)
	if err != nil {
		return nil, err
	}
	return DetectStops(points, minStopMinutes), nil
}

// Export returns the attachment name and content. The format is checked
// before storage is touched.
func (s *Service) Export(ctx context.Context, vehicleID int64, from, to time.Time, format string) (string, []byte, error) {
	if !SupportedFormat(format) {
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedExportFormat, format)
	}
	v, points, err := s.history(ctx, vehicleID, from, to)
	if err != nil {
		return "", nil, err
	}
	data, err := Export(format, v, points)
	if err != nil {
		return "", nil, err
	}
	return Filename(v.Name, from, to), data, nil
}
