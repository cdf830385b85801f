// Package stat keeps small rolling histories for the ingest server: a
// per-minute message counter and the most recent connect and disconnect
// times.
package stat

import (
	"sync"
	"time"
)

const (
	buckets = 60
	events  = 10
)

type counter struct {
	base time.Time
	cnt  uint64
}

type timeEvent struct {
	list [events]time.Time
	idx  int
	n    int
	mu   sync.Mutex
}

func (l *timeEvent) add(t time.Time) {
	l.mu.Lock()
	l.list[l.idx] = t
	l.idx = (l.idx + 1) % len(l.list)
	if l.n < len(l.list) {
		l.n++
	}
	l.mu.Unlock()
}

// recent returns the stored times, newest first.
func (l *timeEvent) recent() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]time.Time, 0, l.n)
	for i := 1; i <= l.n; i++ {
		out = append(out, l.list[(l.idx-i+len(l.list))%len(l.list)])
	}
	return out
}

type Stat struct {
	connect    timeEvent
	disconnect timeEvent
	mu         sync.Mutex
	buf        [buckets]counter
	phead      int
	dur        time.Duration
	created    time.Time
}

func NewStat() *Stat {
	return NewStatWithBucket(time.Minute)
}

func NewStatWithBucket(d time.Duration) *Stat {
	o := &Stat{}
	o.dur = d
	o.created = time.Now()
	return o
}

func (s *Stat) ConnectEv(t time.Time) {
	s.connect.add(t)
}

func (s *Stat) DisconnectEv(t time.Time) {
	s.disconnect.add(t)
}

func (s *Stat) RecentConnects() []time.Time {
	return s.connect.recent()
}

func (s *Stat) RecentDisconnects() []time.Time {
	return s.disconnect.recent()
}

// CounterIncr adds amt to the bucket containing t. Times older than the
// current bucket are dropped.
func (s *Stat) CounterIncr(amt uint64, t time.Time) {
	s.mu.Lock()
	f := t.Truncate(s.dur)
	last := &s.buf[s.phead]
	if f.After(last.base) {
		if last.cnt != 0 {
			s.phead = (s.phead + 1) % len(s.buf)
		}
		s.buf[s.phead].base = f
		s.buf[s.phead].cnt = amt
	} else if f.Equal(last.base) {
		last.cnt += amt
	}
	s.mu.Unlock()
}

// Bucket is one counter interval.
type Bucket struct {
	Start time.Time `json:"start"`
	Count uint64    `json:"count"`
}

// Buckets returns non-empty buckets, newest first.
func (s *Stat) Buckets() []Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Bucket, 0, len(s.buf))
	for i := 0; i < len(s.buf); i++ {
		c := s.buf[(s.phead-i+len(s.buf))%len(s.buf)]
		if c.cnt == 0 {
			continue
		}
		out = append(out, Bucket{Start: c.base, Count: c.cnt})
	}
	return out
}
