package websocket

import (
	"testing"

	"github.com/tradingiq/prediction-client/types"

	"github.com/stretchr/testify/assert"
)

func TestListenerRegistry_SnapshotIsStable(t *testing.T) {
	r := newListenerRegistry()

	var calls []types.ListenerID
	first := r.add(types.EventAlert, func(types.Event) {})
	second := r.add(types.EventAlert, func(types.Event) {})

	snap := r.snapshot(types.EventAlert)
	third := r.add(types.EventAlert, func(types.Event) {})
	assert.True(t, r.remove(types.EventAlert, first))

	for _, l := range snap {
		calls = append(calls, l.id)
	}
	assert.Equal(t, []types.ListenerID{first, second}, calls, "snapshot must not observe later changes")

	var current []types.ListenerID
	for _, l := range r.snapshot(types.EventAlert) {
		current = append(current, l.id)
	}
	assert.Equal(t, []types.ListenerID{second, third}, current)
}

func TestListenerRegistry_RemoveLastDeletesEvent(t *testing.T) {
	r := newListenerRegistry()
	id := r.add(types.EventPong, func(types.Event) {})

	assert.False(t, r.remove(types.EventAlert, id))
	assert.True(t, r.remove(types.EventPong, id))
	assert.Empty(t, r.snapshot(types.EventPong))
	_, exists := r.handlers[types.EventPong]
	assert.False(t, exists)
}
