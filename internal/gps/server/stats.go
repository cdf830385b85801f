package server

import "sync/atomic"

type counters struct {
	accepted     uint64
	acceptErrors uint64
	messages     uint64
	rejected     uint64
	invalid      uint64
	dropped      uint64
	acked        uint64
}

// Stats is a point-in-time copy of the server counters.
type Stats struct {
	Accepted     uint64 `json:"connections_accepted"`
	Active       int    `json:"connections_active"`
	AcceptErrors uint64 `json:"accept_errors"`
	Messages     uint64 `json:"messages"`
	Rejected     uint64 `json:"messages_rejected"`
	Invalid      uint64 `json:"fixes_invalid"`
	Dropped      uint64 `json:"fixes_dropped"`
	Acked        uint64 `json:"acks_sent"`
}

func (s *Server) Stats() Stats {
	return Stats{
		Accepted:     atomic.LoadUint64(&s.counters.accepted),
		Active:       s.sessions.len(),
		AcceptErrors: atomic.LoadUint64(&s.counters.acceptErrors),
		Messages:     atomic.LoadUint64(&s.counters.messages),
		Rejected:     atomic.LoadUint64(&s.counters.rejected),
		Invalid:      atomic.LoadUint64(&s.counters.invalid),
		Dropped:      atomic.LoadUint64(&s.counters.dropped),
		Acked:        atomic.LoadUint64(&s.counters.acked),
	}
}
