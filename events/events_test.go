package events

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// TestEventPublishingAndSubscribing creates EventEmitter objects, subscribes EventHandler callbacks to them, and
// ensures that the events are received as intended.
func TestEventPublishingAndSubscribing(t *testing.T) {
	// Define some event types
	type TestEventA struct{}
	type TestEventB struct{}

	// Create event emitters for both events.
	eventAEmitter := EventEmitter[TestEventA]{}
	eventBEmitter := EventEmitter[TestEventB]{}

	// Create our callback methods for each event, where we update our count of published events.
	var eventACount, eventBCount int
	eventAEmitter.Subscribe(func(event TestEventA) error {
		eventACount++
		return nil
	})
	eventAEmitter.Subscribe(func(event TestEventA) error {
		eventACount++
		return nil
	})
	eventBEmitter.Subscribe(func(event TestEventB) error {
		eventBCount++
		return nil
	})

	// Publish each event and verify every subscriber was invoked.
	assert.NoError(t, eventAEmitter.Publish(TestEventA{}))
	assert.NoError(t, eventBEmitter.Publish(TestEventB{}))
	assert.Equal(t, 2, eventACount)
	assert.Equal(t, 1, eventBCount)
}

// TestEventHandlerError ensures that a handler error stops publishing and is surfaced to the caller.
func TestEventHandlerError(t *testing.T) {
	type TestEvent struct{}
	emitter := EventEmitter[TestEvent]{}

	var secondCalled bool
	emitter.Subscribe(func(event TestEvent) error {
		return errors.New("handler failed")
	})
	emitter.Subscribe(func(event TestEvent) error {
		secondCalled = true
		return nil
	})

	err := emitter.Publish(TestEvent{})
	assert.Error(t, err)
	assert.False(t, secondCalled)
}
