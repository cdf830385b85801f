// Package writer moves decoded fixes off the session goroutines into the
// store, the live hub and the brokers. Sessions never wait on storage.
package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/publish"
	"nuha.dev/tcpgps/internal/store"
)

const (
	FLUSH_ERROR   string = "flush_error"
	SAVE_ERROR    string = "save_error"
	PUBLISH_ERROR string = "publish_error"
	QUEUE_FULL    string = "queue_full"
)

const (
	DefaultQueueSize     = 1000
	DefaultBatchSize     = 50
	DefaultFlushInterval = 2 * time.Second
	DefaultSubmitTimeout = 100 * time.Millisecond
	DefaultSaveTimeout   = 10 * time.Second
)

// Live receives every stored fix, e.g. *sublist.Hub.
type Live interface {
	Publish(f fix.Fix)
}

type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	SubmitTimeout time.Duration
	SaveTimeout   time.Duration
}

func (c *Config) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.SubmitTimeout < 0 {
		c.SubmitTimeout = 0
	} else if c.SubmitTimeout == 0 {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = DefaultSaveTimeout
	}
}

type counters struct {
	submitted     uint64
	dropped       uint64
	saved         uint64
	saveErrors    uint64
	published     uint64
	publishErrors uint64
	flushes       uint64
}

type Stats struct {
	Queued        int    `json:"queued"`
	Submitted     uint64 `json:"submitted"`
	Dropped       uint64 `json:"dropped"`
	Saved         uint64 `json:"saved"`
	SaveErrors    uint64 `json:"save_errors"`
	Published     uint64 `json:"published"`
	PublishErrors uint64 `json:"publish_errors"`
	Flushes       uint64 `json:"flushes"`
}

type Writer struct {
	config     Config
	ch         chan fix.Fix
	store      store.FixStore
	live       Live
	publishers []publish.Publisher
	log        log.Logger
	counters   counters
	mu         sync.RWMutex
	closed     bool
	smu        sync.Mutex
	started    bool
	done       chan struct{}
}

// New builds a writer. st, live and the publishers may each be absent.
func New(config *Config, st store.FixStore, live Live, pubs ...publish.Publisher) *Writer {
	w := &Writer{}
	if config != nil {
		w.config = *config
	}
	w.config.defaults()
	w.ch = make(chan fix.Fix, w.config.QueueSize)
	w.store = st
	w.live = live
	w.publishers = pubs
	w.done = make(chan struct{})
	w.log = log.DefaultLogger
	w.log.Context = log.NewContext(nil).Str("module", "writer").Value()
	return w
}

func (w *Writer) Start() {
	w.smu.Lock()
	defer w.smu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.run()
}

// Submit queues f. When the queue stays full for SubmitTimeout the fix
// is dropped and false is returned.
func (w *Writer) Submit(f fix.Fix) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		atomic.AddUint64(&w.counters.dropped, 1)
		return false
	}
	select {
	case w.ch <- f:
		atomic.AddUint64(&w.counters.submitted, 1)
		return true
	default:
	}
	if w.config.SubmitTimeout > 0 {
		t := time.NewTimer(w.config.SubmitTimeout)
		defer t.Stop()
		select {
		case w.ch <- f:
			atomic.AddUint64(&w.counters.submitted, 1)
			return true
		case <-t.C:
		}
	}
	atomic.AddUint64(&w.counters.dropped, 1)
	w.log.Warn().Str("event", QUEUE_FULL).EmbedObject(f).Msg("fix dropped")
	return false
}

// Close stops accepting fixes and returns after the queued ones are
// flushed.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()
	w.smu.Lock()
	started := w.started
	w.started = true
	w.smu.Unlock()
	if !started {
		w.run()
		return
	}
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()
	buffer := make([]fix.Fix, 0, w.config.BatchSize)
	for {
		select {
		case f, ok := <-w.ch:
			if !ok {
				if len(buffer) != 0 {
					w.flush(buffer)
				}
				w.log.Info().Msg("writer stopped")
				return
			}
			buffer = append(buffer, f)
			if len(buffer) == w.config.BatchSize {
				w.flush(buffer)
				buffer = buffer[:0]
			}
		case <-ticker.C:
			if len(buffer) != 0 {
				w.flush(buffer)
				buffer = buffer[:0]
			}
		}
	}
}

func (w *Writer) flush(batch []fix.Fix) {
	atomic.AddUint64(&w.counters.flushes, 1)
	ctx, cancel := context.WithTimeout(context.Background(), w.config.SaveTimeout)
	defer cancel()
	stored := w.save(ctx, batch)
	for _, f := range stored {
		if w.live != nil {
			w.live.Publish(f)
		}
		for _, p := range w.publishers {
			if err := p.Publish(ctx, f); err != nil {
				atomic.AddUint64(&w.counters.publishErrors, 1)
				w.log.Error().Err(err).Str("event", PUBLISH_ERROR).Str("publisher", p.Name()).Str("device_id", f.DeviceID).Msg("")
				continue
			}
			atomic.AddUint64(&w.counters.published, 1)
		}
	}
}

// save returns the fixes that reached the store. A failed batch is
// retried one fix at a time so a single bad row does not lose the rest.
func (w *Writer) save(ctx context.Context, batch []fix.Fix) []fix.Fix {
	if w.store == nil {
		return batch
	}
	t0 := time.Now()
	if b, ok := w.store.(store.BatchSaver); ok && len(batch) > 1 {
		err := b.SaveBatch(ctx, batch)
		if err == nil {
			atomic.AddUint64(&w.counters.saved, uint64(len(batch)))
			w.log.Debug().Str("action", "flush").Int("length", len(batch)).Dur("time_taken", time.Since(t0)).Msg("flush successfull")
			return batch
		}
		w.log.Error().Err(err).Str("event", FLUSH_ERROR).Int("length", len(batch)).Msg("batch failed, saving one by one")
	}
	stored := make([]fix.Fix, 0, len(batch))
	for _, f := range batch {
		if err := w.store.Save(ctx, f); err != nil {
			atomic.AddUint64(&w.counters.saveErrors, 1)
			w.log.Error().Err(err).Str("event", SAVE_ERROR).EmbedObject(f).Msg("")
			continue
		}
		atomic.AddUint64(&w.counters.saved, 1)
		stored = append(stored, f)
	}
	return stored
}

func (w *Writer) Stats() Stats {
	return Stats{
		Queued:        len(w.ch),
		Submitted:     atomic.LoadUint64(&w.counters.submitted),
		Dropped:       atomic.LoadUint64(&w.counters.dropped),
		Saved:         atomic.LoadUint64(&w.counters.saved),
		SaveErrors:    atomic.LoadUint64(&w.counters.saveErrors),
		Published:     atomic.LoadUint64(&w.counters.published),
		PublishErrors: atomic.LoadUint64(&w.counters.publishErrors),
		Flushes:       atomic.LoadUint64(&w.counters.flushes),
	}
}
