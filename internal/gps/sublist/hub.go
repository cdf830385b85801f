package sublist

import (
	"encoding/json"
	"sync"

	"github.com/phuslu/log"

	"nuha.dev/tcpgps/internal/fix"
)

// AllDevices subscribes to every device.
const AllDevices = "*"

type deviceEntry struct {
	subs *Tiered
	last []byte
}

// Hub routes fixes to the subscribers of their device and to the
// AllDevices subscribers. The last fix of each device is replayed to new
// subscribers.
type Hub struct {
	mu      sync.RWMutex
	devices map[string]*deviceEntry
	log     log.Logger
}

func NewHub() *Hub {
	h := &Hub{devices: make(map[string]*deviceEntry)}
	h.log = log.DefaultLogger
	h.log.Context = log.NewContext(nil).Str("module", "sublist").Value()
	return h
}

func (h *Hub) entry(deviceID string) *deviceEntry {
	h.mu.RLock()
	e, ok := h.devices[deviceID]
	h.mu.RUnlock()
	if ok {
		return e
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok = h.devices[deviceID]; !ok {
		e = &deviceEntry{subs: NewTiered()}
		h.devices[deviceID] = e
	}
	return e
}

func (h *Hub) Publish(f fix.Fix) {
	d, err := json.Marshal(f)
	if err != nil {
		h.log.Error().Err(err).EmbedObject(f).Msg("unable to encode fix")
		return
	}
	e := h.entry(f.DeviceID)
	h.mu.Lock()
	e.last = d
	h.mu.Unlock()
	e.subs.Send(f.DeviceID, d)
	h.entry(AllDevices).subs.Send(f.DeviceID, d)
}

// Subscribe attaches sub to deviceID, or to every device with AllDevices.
// When slow is set the subscriber gets at most one fix per throttle window.
func (h *Hub) Subscribe(deviceID string, sub Subscriber, slow bool) {
	e := h.entry(deviceID)
	if slow {
		e.subs.SubscribeSlow(sub)
	} else {
		e.subs.Subscribe(sub)
	}
	if deviceID == AllDevices {
		return
	}
	h.mu.RLock()
	last := e.last
	h.mu.RUnlock()
	if last != nil {
		_ = sub.Push(deviceID, last)
	}
}

func (h *Hub) Unsubscribe(deviceID string, sub Subscriber) {
	h.mu.RLock()
	e, ok := h.devices[deviceID]
	h.mu.RUnlock()
	if ok {
		e.subs.Unsubscribe(sub)
	}
}

// Last returns the last encoded fix seen for deviceID.
func (h *Hub) Last(deviceID string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.devices[deviceID]
	if !ok || e.last == nil {
		return nil, false
	}
	return e.last, true
}

// Devices lists the device ids that published at least once.
func (h *Hub) Devices() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.devices))
	for id, e := range h.devices {
		if e.last != nil {
			out = append(out, id)
		}
	}
	return out
}

// Prune drops dead subscribers everywhere.
func (h *Hub) Prune() {
	h.mu.RLock()
	entries := make([]*deviceEntry, 0, len(h.devices))
	for _, e := range h.devices {
		entries = append(entries, e)
	}
	h.mu.RUnlock()
	for _, e := range entries {
		e.subs.Prune()
	}
}
