package agent

import (
	"context"
	"io"
	"sync"
)

// Stream delivers engine events to the caller. Recv returns io.EOF once the
// run finished normally (the last event was finalize_answer) and the run's
// error after an abnormal termination (the last event was an error event).
type Stream struct {
	events chan Event
	errCh  chan error
	cancel context.CancelFunc

	closeOnce sync.Once
	err       error
	terminal  bool
}

func newStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan Event, 16),
		errCh:  make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		err := produce(ctx, s.events)
		s.errCh <- err
		close(s.events)
	}()
	return s
}

func (s *Stream) Recv() (Event, error) {
	if s.terminal {
		if s.err != nil {
			return Event{}, s.err
		}
		return Event{}, io.EOF
	}
	event, ok := <-s.events
	if ok {
		return event, nil
	}
	s.terminal = true
	s.err = <-s.errCh
	if s.err != nil {
		return Event{}, s.err
	}
	return Event{}, io.EOF
}

// Close cancels the run. Safe to call at any time, including after EOF; an
// abandoned stream releases its model connection and in-flight tool call.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		go func() {
			for range s.events {
			}
		}()
	})
	return nil
}

func sendEvent(ctx context.Context, events chan<- Event, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case events <- event:
		return nil
	}
}
