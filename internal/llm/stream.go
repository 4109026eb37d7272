package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream adapts a producer function to the Stream interface. The
// producer runs in its own goroutine and pushes events into a channel; its
// return value becomes the stream's terminal error (nil maps to io.EOF).
// Close cancels the producer's context so an abandoned stream releases the
// underlying connection.
type eventStream struct {
	events chan Event
	errCh  chan error
	cancel context.CancelFunc

	closeOnce sync.Once
	err       error
	terminal  bool
}

func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) *eventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
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

func (s *eventStream) Recv() (Event, error) {
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

func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		// Drain so the producer goroutine can exit even if the consumer
		// stopped mid-stream.
		go func() {
			for range s.events {
			}
		}()
	})
	return nil
}

// emit sends an event unless the stream context has been cancelled.
func emit(ctx context.Context, events chan<- Event, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case events <- event:
		return nil
	}
}
