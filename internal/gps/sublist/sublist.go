// Package sublist fans decoded fixes out to live subscribers, keyed by
// device id.
package sublist

import (
	"sync"
	"time"
)

// Subscriber receives encoded fixes. Push must not block; a subscriber
// that returns an error or reports Closed is pruned.
type Subscriber interface {
	Push(deviceID string, d []byte) error
	Closed() bool
	Name() string
}

// Tiered keeps a full-rate list and a throttled list for the same
// device. Failed subscribers are swept out every pruneEvery.
type Tiered struct {
	mu          sync.Mutex
	fast        *List
	throttled   *List
	throttle    time.Duration
	pruneEvery  time.Duration
	lastSlowAt  time.Time
	lastPruneAt time.Time
}

func NewTiered() *Tiered {
	return &Tiered{
		fast:        NewList(),
		throttled:   NewList(),
		throttle:    5 * time.Second,
		pruneEvery:  20 * time.Second,
		lastPruneAt: time.Now(),
	}
}

func (t *Tiered) Send(deviceID string, d []byte) {
	t.fast.Send(deviceID, d)

	now := time.Now()
	t.mu.Lock()
	slowDue := now.Sub(t.lastSlowAt) > t.throttle
	if slowDue {
		t.lastSlowAt = now
	}
	pruneDue := now.Sub(t.lastPruneAt) > t.pruneEvery
	if pruneDue {
		t.lastPruneAt = now
	}
	t.mu.Unlock()

	if slowDue {
		t.throttled.Send(deviceID, d)
	}
	if pruneDue {
		t.Prune()
	}
}

func (t *Tiered) Subscribe(sub Subscriber)     { t.fast.Add(sub) }
func (t *Tiered) SubscribeSlow(sub Subscriber) { t.throttled.Add(sub) }

func (t *Tiered) Unsubscribe(sub Subscriber) {
	t.fast.Remove(sub)
	t.throttled.Remove(sub)
}

func (t *Tiered) Prune() {
	t.fast.Prune()
	t.throttled.Prune()
}

func (t *Tiered) Len() int {
	return t.fast.Len() + t.throttled.Len()
}

type member struct {
	sub Subscriber
	err error
}

func (m member) dead() bool {
	return m.err != nil || m.sub.Closed()
}

// List is a flat subscriber list. A subscriber whose Push fails is skipped
// from then on and dropped by the next Prune.
type List struct {
	mu      sync.Mutex
	members []member
}

func NewList() *List {
	return &List{members: make([]member, 0, 8)}
}

func (l *List) Add(sub Subscriber) {
	l.mu.Lock()
	l.members = append(l.members, member{sub: sub})
	l.mu.Unlock()
}

func (l *List) Remove(sub Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, m := range l.members {
		if m.sub == sub {
			l.members = append(l.members[:i], l.members[i+1:]...)
			return
		}
	}
}

func (l *List) Send(deviceID string, d []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.members {
		if l.members[i].err == nil {
			l.members[i].err = l.members[i].sub.Push(deviceID, d)
		}
	}
}

func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.members)
}

// Prune drops failed and closed subscribers, keeping the order of the rest.
func (l *List) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.members[:0]
	for _, m := range l.members {
		if !m.dead() {
			kept = append(kept, m)
		}
	}
	for i := len(kept); i < len(l.members); i++ {
		l.members[i] = member{}
	}
	l.members = kept
}
