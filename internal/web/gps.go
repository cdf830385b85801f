package web

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"nuha.dev/tcpgps/internal/store"
	"nuha.dev/tcpgps/internal/util"
)

const (
	maxLatestCount = 1000
	defaultRange   = 24 * time.Hour
)

// parseRange reads from/to as RFC3339. A missing to is now and a missing
// from is defaultRange before to.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	to := time.Now().UTC()
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %w", err)
		}
		to = t.UTC()
	}
	from := to.Add(-defaultRange)
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %w", err)
		}
		from = t.UTC()
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from is after to")
	}
	return from, to, nil
}

func (api *Api) latestFixes(w http.ResponseWriter, r *http.Request) {
	n := store.DefaultLatestCount
	if s := r.URL.Query().Get("count"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > maxLatestCount {
			util.JsonError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", maxLatestCount))
			return
		}
		n = v
	}
	list, err := api.fixes.Latest(r.Context(), n)
	if err != nil {
		api.fail(w, r, err)
		return
	}
	api.writeJson(w, http.StatusOK, list)
}

func (api *Api) deviceHistory(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := api.fixes.ByDeviceAndRange(r.Context(), chi.URLParam(r, "deviceID"), from, to)
	if err != nil {
		api.fail(w, r, err)
		return
	}
	api.writeJson(w, http.StatusOK, list)
}

func (api *Api) deviceLatest(w http.ResponseWriter, r *http.Request) {
	f, err := api.fixes.LatestByDevice(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		api.fail(w, r, err)
		return
	}
	api.writeJson(w, http.StatusOK, f)
}
