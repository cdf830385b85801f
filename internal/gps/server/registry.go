package server

import (
	"sort"
	"sync"
)

// sessionList is the registry of live sessions. The accept loop inserts,
// finishing sessions remove and Stop drains it.
type sessionList struct {
	mu     sync.Mutex
	list   map[uint64]*Session
	closed bool
}

func newSessionList() *sessionList {
	return &sessionList{list: make(map[uint64]*Session)}
}

// add registers s unless the list was closed by Stop.
func (l *sessionList) add(s *Session) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.list[s.conn.Cid()] = s
	return true
}

func (l *sessionList) del(cid uint64) {
	l.mu.Lock()
	delete(l.list, cid)
	l.mu.Unlock()
}

func (l *sessionList) get(cid uint64) (*Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.list[cid]
	return s, ok
}

func (l *sessionList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.list)
}

// snapshot returns the sessions ordered by connection id.
func (l *sessionList) snapshot() []*Session {
	l.mu.Lock()
	out := make([]*Session, 0, len(l.list))
	for _, s := range l.list {
		out = append(out, s)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].conn.Cid() < out[j].conn.Cid() })
	return out
}

// closeAll refuses further inserts, empties the list and returns what it
// held.
func (l *sessionList) closeAll() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	out := make([]*Session, 0, len(l.list))
	for cid, s := range l.list {
		out = append(out, s)
		delete(l.list, cid)
	}
	return out
}
