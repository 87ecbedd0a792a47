package websocket

import (
	"slices"
	"sync"

	"github.com/tradingiq/prediction-client/types"
)

type listener struct {
	id types.ListenerID
	fn types.Handler
}

// listenerRegistry keeps handlers per event in registration order. Slices are
// copied on write so a dispatch can iterate a snapshot while handlers
// register or remove other handlers.
type listenerRegistry struct {
	mu       sync.RWMutex
	nextID   types.ListenerID
	handlers map[types.EventType][]listener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{
		handlers: make(map[types.EventType][]listener),
	}
}

func (r *listenerRegistry) add(event types.EventType, fn types.Handler) types.ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.handlers[event] = append(slices.Clip(r.handlers[event]), listener{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *listenerRegistry) remove(event types.EventType, id types.ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.handlers[event]
	for i, l := range current {
		if l.id != id {
			continue
		}
		updated := make([]listener, 0, len(current)-1)
		updated = append(updated, current[:i]...)
		updated = append(updated, current[i+1:]...)
		if len(updated) == 0 {
			delete(r.handlers, event)
		} else {
			r.handlers[event] = updated
		}
		return true
	}
	return false
}

func (r *listenerRegistry) snapshot(event types.EventType) []listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[event]
}
