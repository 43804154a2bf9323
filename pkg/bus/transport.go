package bus

import "context"

// Transport fans events out to other hub processes. Implementations must
// tolerate broker loss: the bus degrades to local-only delivery and the
// transport reconnects in the background.
type Transport interface {
	// Publish sends ev to the shared channel.
	Publish(ctx context.Context, ev *Event) error

	// Run receives remote events and hands them to deliver until ctx is
	// done. It is responsible for its own reconnect policy.
	Run(ctx context.Context, deliver func(*Event)) error

	// Close releases the transport's resources.
	Close() error
}
