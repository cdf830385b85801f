// Package pgstore stores fixes and vehicles in PostgreSQL through a pgx
// pool. Batches go through COPY.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/store"
)

//go:embed schema.sql
var Schema string

const DefaultTable = "gps_fix"

var fixColumns = []string{"device_id", "gps_time", "latitude", "longitude", "speed", "course", "satellites", "valid", "raw_message", "received_at"}

const selectFix = `SELECT device_id, gps_time, latitude, longitude, speed, course, satellites, valid, raw_message, received_at FROM `

type Store struct {
	dbp   *pgxpool.Pool
	log   log.Logger
	table string
}

func NewStore(db *pgxpool.Pool, table string) *Store {
	o := &Store{}
	if table == "" {
		table = DefaultTable
	}
	o.table = table
	o.dbp = db
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	return o
}

// Connect opens a pool for dsn and returns a store on it.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	return NewStore(pool, DefaultTable), nil
}

// Migrate creates the tables when missing.
func (st *Store) Migrate(ctx context.Context) error {
	if _, err := st.dbp.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

func (st *Store) Pool() *pgxpool.Pool {
	return st.dbp
}

func (st *Store) Close() {
	st.dbp.Close()
}

func fixRow(f fix.Fix) []interface{} {
	return []interface{}{f.DeviceID, f.Timestamp, f.Latitude, f.Longitude, f.SpeedKmh, f.CourseDeg, f.Satellites, f.Valid, fix.TruncateRaw(f.RawMessage), f.ReceivedAt}
}

func (st *Store) Save(ctx context.Context, f fix.Fix) error {
	_, err := st.dbp.Exec(ctx,
		`INSERT INTO `+pgx.Identifier{st.table}.Sanitize()+` (device_id, gps_time, latitude, longitude, speed, course, satellites, valid, raw_message, received_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		fixRow(f)...)
	if err != nil {
		st.log.Error().Err(err).EmbedObject(f).Msg("error saving fix")
		return err
	}
	return nil
}

func (st *Store) SaveBatch(ctx context.Context, fixes []fix.Fix) error {
	if len(fixes) == 0 {
		return nil
	}
	t1 := time.Now()
	_, err := st.dbp.CopyFrom(ctx,
		pgx.Identifier{st.table},
		fixColumns,
		pgx.CopyFromSlice(len(fixes), func(i int) ([]interface{}, error) {
			return fixRow(fixes[i]), nil
		}))
	if err != nil {
		st.log.Error().Err(err).Int("length", len(fixes)).Msg("flush error")
		return err
	}
	st.log.Debug().Str("action", "flush").Int("length", len(fixes)).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
	return nil
}

func scanFixes(rows pgx.Rows) ([]fix.Fix, error) {
	defer rows.Close()
	out := make([]fix.Fix, 0)
	for rows.Next() {
		var f fix.Fix
		if err := rows.Scan(&f.DeviceID, &f.Timestamp, &f.Latitude, &f.Longitude, &f.SpeedKmh, &f.CourseDeg, &f.Satellites, &f.Valid, &f.RawMessage, &f.ReceivedAt); err != nil {
			return nil, err
		}
		f.Timestamp = f.Timestamp.UTC()
		f.ReceivedAt = f.ReceivedAt.UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

func (st *Store) Latest(ctx context.Context, n int) ([]fix.Fix, error) {
	if n <= 0 {
		n = store.DefaultLatestCount
	}
	rows, err := st.dbp.Query(ctx, selectFix+pgx.Identifier{st.table}.Sanitize()+` ORDER BY received_at DESC, id DESC LIMIT $1`, n)
	if err != nil {
		return nil, err
	}
	return scanFixes(rows)
}

func (st *Store) ByDeviceAndRange(ctx context.Context, deviceID string, from, to time.Time) ([]fix.Fix, error) {
	rows, err := st.dbp.Query(ctx, selectFix+pgx.Identifier{st.table}.Sanitize()+` WHERE device_id = $1 AND gps_time >= $2 AND gps_time <= $3 ORDER BY gps_time, id`, deviceID, from, to)
	if err != nil {
		return nil, err
	}
	return scanFixes(rows)
}

func (st *Store) LatestByDevice(ctx context.Context, deviceID string) (fix.Fix, error) {
	rows, err := st.dbp.Query(ctx, selectFix+pgx.Identifier{st.table}.Sanitize()+` WHERE device_id = $1 ORDER BY received_at DESC, id DESC LIMIT 1`, deviceID)
	if err != nil {
		return fix.Fix{}, err
	}
	list, err := scanFixes(rows)
	if err != nil {
		return fix.Fix{}, err
	}
	if len(list) == 0 {
		return fix.Fix{}, store.ErrNotFound
	}
	return list[0], nil
}

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
