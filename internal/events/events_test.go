package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []*Event
	seen   chan struct{}
}

func newCaptureSink(expected int) *captureSink {
	return &captureSink{seen: make(chan struct{}, expected)}
}

func (c *captureSink) Deliver(ctx context.Context, evt *Event) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *captureSink) wait(t *testing.T, n int) []*Event {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestEmitter_DeliversToAllSinks(t *testing.T) {
	a := newCaptureSink(1)
	b := newCaptureSink(1)
	emitter := NewEmitter(a, b)

	emitter.Emit(context.Background(), Event{
		Type:        PaymentCaptured,
		PaymentID:   "pay_1",
		EntityType:  "customer",
		EntityID:    "cus_1",
		AmountMinor: 10000,
		Currency:    "USD",
		Status:      "captured",
	})

	gotA := a.wait(t, 1)
	gotB := b.wait(t, 1)

	require.Len(t, gotA, 1)
	require.Len(t, gotB, 1)
	assert.Equal(t, PaymentCaptured, gotA[0].Type)
	assert.NotEmpty(t, gotA[0].ID, "emitter must assign an event ID")
	assert.False(t, gotA[0].OccurredAt.IsZero())
	assert.Equal(t, gotA[0].ID, gotB[0].ID, "sinks see the same event")
}

func TestEmitter_NoSinksIsFine(t *testing.T) {
	emitter := NewEmitter()
	emitter.Emit(context.Background(), Event{Type: PaymentFailed, PaymentID: "pay_1"})
}

func TestSubscription_Filtering(t *testing.T) {
	evt := &Event{Type: PaymentRefunded, PaymentID: "pay_1", EntityID: "cus_1"}

	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"all events", Subscription{AllEvents: true}, true},
		{"empty subscription", Subscription{}, false},
		{"matching type", Subscription{EventTypes: []Type{PaymentRefunded}}, true},
		{"non-matching type", Subscription{EventTypes: []Type{PaymentCaptured}}, false},
		{"matching payment", Subscription{PaymentIDs: []string{"pay_1"}}, true},
		{"non-matching payment", Subscription{PaymentIDs: []string{"pay_2"}}, false},
		{"matching entity", Subscription{EntityIDs: []string{"cus_1"}}, true},
		{"type and payment both match", Subscription{EventTypes: []Type{PaymentRefunded}, PaymentIDs: []string{"pay_1"}}, true},
		{"type matches, payment does not", Subscription{EventTypes: []Type{PaymentRefunded}, PaymentIDs: []string{"pay_2"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &wsClient{sub: tt.sub}
			assert.Equal(t, tt.want, c.wants(evt))
		})
	}
}
