package midi

import (
	"context"
	"sync"
)

// stream is an unbounded, multi-producer notification queue. push never
// blocks, so it is safe to call from driver callbacks.
type stream struct {
	mu     sync.Mutex
	buf    []Notification
	closed bool

	ready chan struct{} // capacity 1, signalled on push
	done  chan struct{} // closed by close
}

func newStream() *stream {
	return &stream{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (s *stream) push(n Notification) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, n)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// next blocks until a notification is queued, the stream is closed and
// drained, or ctx is done.
func (s *stream) next(ctx context.Context) (Notification, error) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			n := s.buf[0]
			s.buf[0] = Notification{}
			s.buf = s.buf[1:]
			if len(s.buf) == 0 {
				s.buf = nil
			}
			s.mu.Unlock()
			return n, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Notification{}, ErrPortClosed
		}

		select {
		case <-s.ready:
		case <-s.done:
		case <-ctx.Done():
			return Notification{}, ctx.Err()
		}
	}
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
