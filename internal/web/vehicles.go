package web

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/trip"
	"nuha.dev/tcpgps/internal/util"
)

var errNegativeMinStop = errors.New("min_stop must not be negative")

// vehicleView is a vehicle as the API shows it, with an opaque id.
type vehicleView struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"device_id"`
	Name         string    `json:"name"`
	LicensePlate string    `json:"license_plate"`
	DriverName   string    `json:"driver_name"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type vehicleRequest struct {
	DeviceID     string `json:"device_id" validate:"required,max=50"`
	Name         string `json:"name" validate:"required,max=100"`
	LicensePlate string `json:"license_plate" validate:"max=20"`
	DriverName   string `json:"driver_name" validate:"max=100"`
	Active       *bool  `json:"active"`
}

func (api *Api) view(v fix.Vehicle) vehicleView {
	return vehicleView{
		ID:           api.ids.Encode(v.ID),
		DeviceID:     v.DeviceID,
		Name:         v.Name,
		LicensePlate: v.LicensePlate,
		DriverName:   v.DriverName,
		Active:       v.Active,
		CreatedAt:    v.CreatedAt,
	}
}

// vehicleID decodes the {vid} path parameter. On failure a 404 has been
// written.
func (api *Api) vehicleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := api.ids.Decode(chi.URLParam(r, "vid"))
	if err != nil {
		util.JsonError(w, http.StatusNotFound, err.Error())
		return 0, false
	}
	return id, true
}

func (api *Api) readVehicle(w http.ResponseWriter, r *http.Request) (vehicleRequest, bool) {
	var req vehicleRequest
	if err := util.DecodeJson(r.Body, &req); err != nil {
		util.JsonError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if err := api.validate.Struct(&req); err != nil {
		util.JsonError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

func (api *Api) listVehicles(w http.ResponseWriter, r *http.Request) {
	list, err := api.vehicles.Vehicles(r.Context())
	if err != nil {
		api.fail(w, r, err)
		return
	}
	out := make([]vehicleView, 0, len(list))
	for _, v := range list {
		out = append(out, api.view(v))
	}
	api.writeJson(w, http.StatusOK, out)
}

func (api *Api) createVehicle(w http.ResponseWriter, r *http.Request) {
	req, ok := api.readVehicle(w, r)
	if !ok {
		return
	}
	v := fix.Vehicle{
		DeviceID:     req.DeviceID,
		Name:         req.Name,
		LicensePlate: req.LicensePlate,
		DriverName:   req.DriverName,
		Active:       true,
	}
	if req.Active != nil {
		v.Active = *req.Active
	}
	if err := api.vehicles.CreateVehicle(r.Context(), &v); err != nil {
		api.fail(w, r, err)
		return
	}
	api.writeJson(w, http.StatusCreated, api.view(v))
}

func (api *Api) getVehicle(w http.ResponseWriter, r *http.Request) {
	id, ok := api.vehicleID(w, r)
	if !ok {
		return
	}
	v, err := api.vehicles.Vehicle(r.Context(), id)
	if err != nil {
		api.fail(w, r, err)
		return
	}
	api.writeJson(w, http.StatusOK, api.view(v))
}

func (api *Api) updateVehicle(w http.ResponseWriter, r *http.Request) {
	id, ok := api.vehicleID(w, r)
	if !ok {
		return
	}
	req, ok := api.readVehicle(w, r)
	if !ok {
		return
	}
	v, err := api.vehicles.Vehicle(r.Context(), id)
	if err != nil {
		api.fail(w, r, err)
		return
	}
	v.DeviceID = req.DeviceID
	v.Name = req.Name
	v.LicensePlate = req.LicensePlate
	v.DriverName = req.DriverName
	if req.Active != nil {
		v.Active = *req.Active
	}
	if err := api.vehicles.UpdateVehicle(r.Context(), v); err != nil {
		api.fail(w, r, err)
		return
	}
	api.writeJson(w, http.StatusOK, api.view(v))
}

func (api *Api) deleteVehicle(w http.ResponseWriter, r *http.Request) {
	id, ok := api.vehicleID(w, r)
	if !ok {
		return
	}
	if err := api.vehicles.DeleteVehicle(r.Context(), id); err != nil {
		api.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// minStop reads min_stop in minutes. Absent means trip.DefaultMinStop and
// zero keeps every stop.
func minStop(r *http.Request) (float64, error) {
	s := r.URL.Query().Get("min_stop")
	if s == "" {
		return trip.DefaultMinStop, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNegativeMinStop
	}
	return v, nil
}

func (api *Api) vehicleStatistics(w http.ResponseWriter, r *http.Request) {
	id, ok := api.vehicleID(w, r)
	if !ok {
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	ms, err := minStop(r)
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, "invalid min_stop")
		return
	}
	st, err := api.trips.Statistics(r.Context(), id, from, to, ms)
	if err != nil {
		api.fail(w, r, err)
		return
	}
	api.writeJson(w, http.StatusOK, st)
}

func (api *Api) vehicleStops(w http.ResponseWriter, r *http.Request) {
	id, ok := api.vehicleID(w, r)
	if !ok {
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	ms, err := minStop(r)
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, "invalid min_stop")
		return
	}
	stops, err := api.trips.Stops(r.Context(), id, from, to, ms)
	if err != nil {
		api.fail(w, r, err)
		return
	}
	if stops == nil {
		stops = []trip.StopInterval{}
	}
	api.writeJson(w, http.StatusOK, stops)
}

func (api *Api) vehicleExport(w http.ResponseWriter, r *http.Request) {
	id, ok := api.vehicleID(w, r)
	if !ok {
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = trip.FormatCSV
	}
	name, body, err := api.trips.Export(r.Context(), id, from, to, format)
	if err != nil {
		api.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		api.log.Error().Err(err).Msg("error writing export")
	}
}
