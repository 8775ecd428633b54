package progress

import "context"

// Emitter is the producer-side surface of the Hub; workers depend on
// this instead of the concrete type.
type Emitter interface {
	Emit(Event)
}

// Sink consumes batches of events. Implementations must tolerate
// repeated Close calls and respect the supplied context.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}
