// Package logstore writes an audit line for every stored fix and passes
// the call on to the wrapped store.
package logstore

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/store"
)

type LogStore struct {
	next   store.FixStore
	logger zerolog.Logger
}

// NewStore wraps next. A nil next only logs.
func NewStore(next store.FixStore) *LogStore {
	return NewStoreWithLogger(next, log.With().Str("module", "logstore").Logger())
}

func NewStoreWithLogger(next store.FixStore, logger zerolog.Logger) *LogStore {
	return &LogStore{next: next, logger: logger}
}

func (l *LogStore) audit(f fix.Fix) {
	l.logger.Info().
		Str("device_id", f.DeviceID).
		Float64("lat", f.Latitude).
		Float64("lon", f.Longitude).
		Float64("speed", f.SpeedKmh).
		Float64("course", f.CourseDeg).
		Bool("valid", f.Valid).
		Time("gps_time", f.Timestamp).
		Time("received_at", f.ReceivedAt).
		Msg("fix")
}

func (l *LogStore) Save(ctx context.Context, f fix.Fix) error {
	l.audit(f)
	if l.next == nil {
		return nil
	}
	return l.next.Save(ctx, f)
}

func (l *LogStore) SaveBatch(ctx context.Context, fixes []fix.Fix) error {
	for _, f := range fixes {
		l.audit(f)
	}
	if l.next == nil {
		return nil
	}
	if b, ok := l.next.(store.BatchSaver); ok {
		return b.SaveBatch(ctx, fixes)
	}
	for _, f := range fixes {
		if err := l.next.Save(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (l *LogStore) Latest(ctx context.Context, n int) ([]fix.Fix, error) {
	if l.next == nil {
		return []fix.Fix{}, nil
	}
	return l.next.Latest(ctx, n)
}

func (l *LogStore) ByDeviceAndRange(ctx context.Context, deviceID string, from, to time.Time) ([]fix.Fix, error) {
	if l.next == nil {
		return []fix.Fix{}, nil
	}
	return l.next.ByDeviceAndRange(ctx, deviceID, from, to)
}

func (l *LogStore) LatestByDevice(ctx context.Context, deviceID string) (fix.Fix, error) {
	if l.next == nil {
		return fix.Fix{}, store.ErrNotFound
	}
	return l.next.LatestByDevice(ctx, deviceID)
}
