package livesync

import (
	"context"
	"errors"
	"sync"

	"teamdeck/internal/docstore"
)

// ErrCancelled is returned by Next once the stream has been cancelled.
var ErrCancelled = errors.New("subscription cancelled")

// Snapshot is the complete ordered result set of a standing query. A non-nil
// Err reports a failed refresh and is distinct from an empty result.
type Snapshot struct {
	Docs []docstore.Document
	Err  error
}

// Stream delivers snapshots of one standing query. Only the newest
// undelivered snapshot is kept.
type Stream struct {
	hub   *Hub
	query docstore.Query

	// refresh serializes query+deliver so a stale result never overwrites a
	// newer one.
	refresh     sync.Mutex
	fingerprint [32]byte
	delivered   bool

	mu        sync.Mutex
	latest    *Snapshot
	cancelled bool
	notify    chan struct{}
	done      chan struct{}
	once      sync.Once
	stop      func() bool
}

func newStream(h *Hub, q docstore.Query) *Stream {
	return &Stream{
		hub:    h,
		query:  q,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Query returns the standing query of the stream.
func (s *Stream) Query() docstore.Query {
	return s.query
}

// Next blocks until a snapshot is available, the stream is cancelled or ctx
// ends.
func (s *Stream) Next(ctx context.Context) (Snapshot, error) {
	for {
		s.mu.Lock()
		if s.cancelled {
			s.mu.Unlock()
			return Snapshot{}, ErrCancelled
		}
		if s.latest != nil {
			snap := *s.latest
			s.latest = nil
			s.mu.Unlock()
			return snap, nil
		}
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-s.done:
			return Snapshot{}, ErrCancelled
		case <-s.notify:
		}
	}
}

// Cancel releases the subscription. It is idempotent; once it returns no
// further snapshot is yielded.
func (s *Stream) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.cancelled = true
		s.latest = nil
		close(s.done)
		stop := s.stop
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		s.hub.remove(s)
	})
}

// Done is closed when the stream is cancelled.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// run executes the query and delivers the result unless it matches the last
// delivered one.
func (s *Stream) run(ctx context.Context, src Source) error {
	s.refresh.Lock()
	defer s.refresh.Unlock()
	docs, err := src.Query(ctx, s.query)
	if err != nil {
		s.delivered = false
		s.offer(Snapshot{Err: err})
		return err
	}
	fp := fingerprint(docs)
	if s.delivered && fp == s.fingerprint {
		return nil
	}
	s.fingerprint = fp
	s.delivered = true
	s.offer(Snapshot{Docs: docs})
	return nil
}

func (s *Stream) offer(snap Snapshot) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.latest = &snap
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Feed is a Stream whose documents are decoded into T.
type Feed[T any] struct {
	stream *Stream
}

func NewFeed[T any](s *Stream) *Feed[T] {
	return &Feed[T]{stream: s}
}

// Next returns the next decoded snapshot. A refresh failure or a document
// that cannot be decoded is returned as an error; the feed stays usable.
func (f *Feed[T]) Next(ctx context.Context) ([]T, error) {
	snap, err := f.stream.Next(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Err != nil {
		return nil, snap.Err
	}
	items := make([]T, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		var item T
		if err := doc.Decode(&item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (f *Feed[T]) Cancel() {
	f.stream.Cancel()
}

func (f *Feed[T]) Done() <-chan struct{} {
	return f.stream.Done()
}
