package events

import "context"

// Bus carries small broadcast messages between server instances. Delivery is
// at-most-once and unordered across channels; subscribers must treat every
// message as a hint to re-read shared state, not as the state itself.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe invokes handler for every message on channel until the
	// returned cancel function is called.
	Subscribe(channel string, handler func(payload []byte)) (cancel func(), err error)
}
