package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nuha.dev/tcpgps/internal/gps/server"
	"nuha.dev/tcpgps/internal/gps/stat"
	"nuha.dev/tcpgps/internal/gps/writer"
)

type fakeTracker struct {
	st *stat.Stat
}

func (f *fakeTracker) Stats() server.Stats {
	return server.Stats{Accepted: 3, Active: 1, Messages: 10, Rejected: 2, Acked: 8}
}

func (f *fakeTracker) Sessions() []server.SessionInfo {
	return []server.SessionInfo{{CID: 7, Endpoint: "10.0.0.1:5000", DeviceID: "ABC", State: "reading", Messages: 10}}
}

func (f *fakeTracker) Stat() *stat.Stat { return f.st }

type fakeQueue struct{}

func (fakeQueue) Stats() writer.Stats { return writer.Stats{Queued: 2, Saved: 40} }

func TestStatusHandler(t *testing.T) {
	st := stat.NewStat()
	st.CounterIncr(5, time.Now())
	st.ConnectEv(time.Now())
	m := NewMonApi(&fakeTracker{st: st}, fakeQueue{}, &MonitoringConfig{})

	rec := httptest.NewRecorder()
	m.GetHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/monitor", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var got Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Server.Messages != 10 || got.Server.Acked != 8 {
		t.Errorf("server stats %+v", got.Server)
	}
	if len(got.Sessions) != 1 || got.Sessions[0].DeviceID != "ABC" {
		t.Errorf("sessions %+v", got.Sessions)
	}
	if got.Writer == nil || got.Writer.Saved != 40 {
		t.Errorf("writer stats %+v", got.Writer)
	}
	if len(got.Connects) != 1 {
		t.Errorf("expected one recent connect, got %d", len(got.Connects))
	}
	var total uint64
	for _, b := range got.Messages {
		total += b.Count
	}
	if total != 5 {
		t.Errorf("bucket total %d", total)
	}
}

func TestStatusWithoutQueue(t *testing.T) {
	m := NewMonApi(&fakeTracker{}, nil, &MonitoringConfig{})
	st := m.Status()
	if st.Writer != nil {
		t.Error("writer stats without a queue")
	}
	if st.Server.Accepted != 3 {
		t.Errorf("accepted %d", st.Server.Accepted)
	}
}
