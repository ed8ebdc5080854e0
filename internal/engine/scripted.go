package engine

import (
	"context"
	"time"
)

// Scripted is a test double that replays a fixed event sequence. A zero
// Delay plays events as fast as the consumer drains them; Hang makes the
// stream stall before the terminal event until the context is cancelled,
// which exercises disconnect and timeout paths.
type Scripted struct {
	Events []Event
	Delay  time.Duration
	Hang   bool

	// InvokeErr, when set, fails the invocation itself before any event.
	InvokeErr error

	// LastRequest records the most recent request for assertions.
	LastRequest *Request
}

// Invoke replays the scripted sequence on a fresh stream.
func (s *Scripted) Invoke(ctx context.Context, req Request) (*Stream, error) {
	if s.InvokeErr != nil {
		return nil, s.InvokeErr
	}
	reqCopy := req
	s.LastRequest = &reqCopy

	stream := newStream(0)
	go func() {
		defer stream.close()
		for i, event := range s.Events {
			if s.Hang && event.Terminal() {
				<-ctx.Done()
				return
			}
			if s.Delay > 0 && i > 0 {
				select {
				case <-time.After(s.Delay):
				case <-ctx.Done():
					return
				}
			}
			if !stream.emit(ctx, event) {
				return
			}
		}
	}()
	return stream, nil
}

// ScriptResult builds the usual happy-path script: text deltas followed by
// a final result carrying the concatenated text.
func ScriptResult(deltas ...string) []Event {
	events := make([]Event, 0, len(deltas)+1)
	var full string
	for _, d := range deltas {
		events = append(events, Event{Type: EventTextDelta, Text: d})
		full += d
	}
	events = append(events, Event{Type: EventResult, Result: &Result{Text: full}})
	return events
}
