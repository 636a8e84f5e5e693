package events

import "context"

// Recorder appends one-shot audit events to the outbox: message-received,
// appointment-booked, and appointment-auto-cancelled all write a row and
// need no further action, unlike the outbound reply path which a
// Deliverer retries until delivery succeeds.
type Recorder struct {
	exec appendExecer
}

// NewRecorder builds a Recorder backed by exec (typically a *pgxpool.Pool).
// A nil exec makes every Append a no-op, so callers can build a Recorder
// unconditionally and only wire it where audit persistence is configured.
func NewRecorder(exec appendExecer) *Recorder {
	return &Recorder{exec: exec}
}

// Append records evt against aggregate. Errors are returned for the caller
// to log; a failed audit append never blocks the operation it describes.
func (r *Recorder) Append(ctx context.Context, aggregate string, evt CanonicalEvent) error {
	if r == nil || r.exec == nil {
		return nil
	}
	_, err := AppendCanonicalEvent(ctx, r.exec, aggregate, "", evt)
	return err
}
