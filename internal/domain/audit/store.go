package audit

import "context"

// Recorder accepts audit records. Implementations must not block the
// caller on slow sinks; dropping under backpressure is preferable to
// stalling the request path.
type Recorder interface {
	// Record stores one audit entry.
	Record(ctx context.Context, rec Record)
}

// Store extends Recorder with retrieval for the admin surface.
type Store interface {
	Recorder

	// List returns the most recent records, newest first, up to limit.
	// A zero limit returns the implementation's default page.
	List(ctx context.Context, tenantID string, limit int) ([]Record, error)
}

// NopRecorder discards all records. Used in tests and when auditing is
// disabled.
type NopRecorder struct{}

// Record discards the entry.
func (NopRecorder) Record(ctx context.Context, rec Record) {}

// Compile-time interface verification.
var _ Recorder = NopRecorder{}
