package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/store/impl/memstore"
)

type mockStore struct {
	*memstore.Store
	mu       sync.Mutex
	batches  [][]fix.Fix
	failDev  string
	batchErr error
}

func newMockStore() *mockStore {
	return &mockStore{Store: memstore.New(0)}
}

func (m *mockStore) SaveBatch(ctx context.Context, fixes []fix.Fix) error {
	m.mu.Lock()
	m.batches = append(m.batches, append([]fix.Fix(nil), fixes...))
	err := m.batchErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.Store.SaveBatch(ctx, fixes)
}

func (m *mockStore) Save(ctx context.Context, f fix.Fix) error {
	if m.failDev != "" && f.DeviceID == m.failDev {
		return errors.New("constraint violation")
	}
	return m.Store.Save(ctx, f)
}

func (m *mockStore) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

type mockLive struct {
	mu  sync.Mutex
	got []fix.Fix
}

func (m *mockLive) Publish(f fix.Fix) {
	m.mu.Lock()
	m.got = append(m.got, f)
	m.mu.Unlock()
}

func (m *mockLive) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.got)
}

type mockPub struct {
	mu   sync.Mutex
	n    int
	fail bool
}

func (m *mockPub) Publish(ctx context.Context, f fix.Fix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("broker down")
	}
	m.n++
	return nil
}

func (m *mockPub) Name() string { return "mock" }
func (m *mockPub) Close()       {}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func dev(id string) fix.Fix {
	return fix.Fix{DeviceID: id, Latitude: 1, Longitude: 1, Valid: true, ReceivedAt: time.Now().UTC()}
}

func TestFlushOnBatchSize(t *testing.T) {
	st := newMockStore()
	w := New(&Config{BatchSize: 3, FlushInterval: time.Hour}, st, nil)
	w.Start()
	defer w.Close()
	for i := 0; i < 3; i++ {
		if !w.Submit(dev("A")) {
			t.Fatal("submit refused")
		}
	}
	waitFor(t, "batch flush", func() bool { return st.batchCount() == 1 })
	if n := len(st.batches[0]); n != 3 {
		t.Errorf("batch length = %d", n)
	}
}

func TestFlushOnInterval(t *testing.T) {
	st := newMockStore()
	live := &mockLive{}
	w := New(&Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, st, live)
	w.Start()
	defer w.Close()
	w.Submit(dev("A"))
	waitFor(t, "timed flush", func() bool { return live.count() == 1 })
	if _, err := st.LatestByDevice(context.Background(), "A"); err != nil {
		t.Errorf("fix not stored: %v", err)
	}
	if st.batchCount() != 0 {
		t.Error("single fix must use Save")
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	st := newMockStore()
	pub := &mockPub{}
	w := New(&Config{BatchSize: 100, FlushInterval: time.Hour}, st, nil, pub)
	w.Start()
	for i := 0; i < 5; i++ {
		w.Submit(dev("A"))
	}
	w.Close()
	all, _ := st.Latest(context.Background(), 100)
	if len(all) != 5 {
		t.Errorf("stored %d fixes after Close", len(all))
	}
	if pub.n != 5 {
		t.Errorf("published %d", pub.n)
	}
	if w.Submit(dev("A")) {
		t.Error("Submit accepted after Close")
	}
	w.Close()
}

func TestCloseWithoutStart(t *testing.T) {
	st := newMockStore()
	w := New(nil, st, nil)
	w.Submit(dev("A"))
	w.Close()
	if all, _ := st.Latest(context.Background(), 10); len(all) != 1 {
		t.Errorf("stored %d", len(all))
	}
}

func TestQueueFullDrops(t *testing.T) {
	w := New(&Config{QueueSize: 1, SubmitTimeout: -1}, nil, nil)
	if !w.Submit(dev("A")) {
		t.Fatal("first submit refused")
	}
	if w.Submit(dev("B")) {
		t.Fatal("second submit accepted on full queue")
	}
	st := w.Stats()
	if st.Dropped != 1 || st.Submitted != 1 || st.Queued != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestQueueFullWaitsForRoom(t *testing.T) {
	w := New(&Config{QueueSize: 1, SubmitTimeout: time.Second, FlushInterval: time.Hour, BatchSize: 1}, nil, nil)
	w.Submit(dev("A"))
	go func() {
		time.Sleep(20 * time.Millisecond)
		w.Start()
	}()
	if !w.Submit(dev("B")) {
		t.Error("submit did not wait for the queue to drain")
	}
	w.Close()
}

func TestBatchFailureFallsBackPerFix(t *testing.T) {
	st := newMockStore()
	st.batchErr = errors.New("copy failed")
	st.failDev = "BAD"
	live := &mockLive{}
	pub := &mockPub{}
	w := New(&Config{BatchSize: 3, FlushInterval: time.Hour}, st, live, pub)
	w.Start()
	w.Submit(dev("A"))
	w.Submit(dev("BAD"))
	w.Submit(dev("C"))
	w.Close()

	s := w.Stats()
	if s.Saved != 2 || s.SaveErrors != 1 {
		t.Errorf("stats = %+v", s)
	}
	if live.count() != 2 || pub.n != 2 {
		t.Errorf("live=%d published=%d, want only stored fixes", live.count(), pub.n)
	}
}

func TestPublishErrorCounted(t *testing.T) {
	pub := &mockPub{fail: true}
	w := New(&Config{BatchSize: 1}, nil, nil, pub)
	w.Start()
	w.Submit(dev("A"))
	w.Close()
	if s := w.Stats(); s.PublishErrors != 1 || s.Published != 0 {
		t.Errorf("stats = %+v", s)
	}
}
