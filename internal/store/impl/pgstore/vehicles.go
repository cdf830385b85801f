package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/store"
)

const selectVehicle = `SELECT id, device_id, name, license_plate, driver_name, active, created_at FROM vehicle`

func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return store.ErrDuplicate
	}
	return err
}

func scanVehicle(row pgx.Row) (fix.Vehicle, error) {
	var v fix.Vehicle
	err := row.Scan(&v.ID, &v.DeviceID, &v.Name, &v.LicensePlate, &v.DriverName, &v.Active, &v.CreatedAt)
	v.CreatedAt = v.CreatedAt.UTC()
	return v, mapErr(err)
}

func (st *Store) CreateVehicle(ctx context.Context, v *fix.Vehicle) error {
	err := st.dbp.QueryRow(ctx,
		`INSERT INTO vehicle (device_id, name, license_plate, driver_name, active) VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at`,
		v.DeviceID, v.Name, v.LicensePlate, v.DriverName, v.Active).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		st.log.Error().Err(err).Str("device_id", v.DeviceID).Msg("error creating vehicle")
		return uniqueViolation(err)
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return nil
}

func (st *Store) Vehicle(ctx context.Context, id int64) (fix.Vehicle, error) {
	return scanVehicle(st.dbp.QueryRow(ctx, selectVehicle+` WHERE id = $1`, id))
}

func (st *Store) VehicleByDevice(ctx context.Context, deviceID string) (fix.Vehicle, error) {
	return scanVehicle(st.dbp.QueryRow(ctx, selectVehicle+` WHERE device_id = $1`, deviceID))
}

func (st *Store) Vehicles(ctx context.Context) ([]fix.Vehicle, error) {
	rows, err := st.dbp.Query(ctx, selectVehicle+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]fix.Vehicle, 0)
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (st *Store) UpdateVehicle(ctx context.Context, v fix.Vehicle) error {
	tag, err := st.dbp.Exec(ctx,
		`UPDATE vehicle SET device_id = $1, name = $2, license_plate = $3, driver_name = $4, active = $5 WHERE id = $6`,
		v.DeviceID, v.Name, v.LicensePlate, v.DriverName, v.Active, v.ID)
	if err != nil {
		st.log.Error().Err(err).Int64("vehicle_id", v.ID).Msg("error updating vehicle")
		return uniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (st *Store) DeleteVehicle(ctx context.Context, id int64) error {
	tag, err := st.dbp.Exec(ctx, `DELETE FROM vehicle WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
