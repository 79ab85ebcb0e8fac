// Package livesync keeps standing queries over the document store and
// delivers full result snapshots to subscribers whenever a collection they
// watch changes.
package livesync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"teamdeck/internal/docstore"
)

// Source runs standing queries.
type Source interface {
	Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error)
}

// Hub owns every subscription of the process. Notifications are coalesced
// per collection and dispatched by Run on a single goroutine.
type Hub struct {
	src    Source
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[string]map[*Stream]struct{}
	pending map[string]struct{}
	signal  chan struct{}
}

func NewHub(src Source, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		src:     src,
		logger:  logger,
		subs:    map[string]map[*Stream]struct{}{},
		pending: map[string]struct{}{},
		signal:  make(chan struct{}, 1),
	}
}

// Subscribe registers a standing query and loads its first snapshot before
// returning, so the first Next yields immediately. A failing initial query
// is returned here and nothing stays registered. The stream is cancelled
// when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, q docstore.Query) (*Stream, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s := newStream(h, q)
	h.mu.Lock()
	set, ok := h.subs[q.Collection]
	if !ok {
		set = map[*Stream]struct{}{}
		h.subs[q.Collection] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	if err := s.run(ctx, h.src); err != nil {
		s.Cancel()
		return nil, err
	}
	stop := context.AfterFunc(ctx, s.Cancel)
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
	return s, nil
}

// Notify marks collection as changed. It never blocks.
func (h *Hub) Notify(collection string) {
	h.mu.Lock()
	if _, ok := h.subs[collection]; !ok {
		h.mu.Unlock()
		return
	}
	h.pending[collection] = struct{}{}
	h.mu.Unlock()
	select {
	case h.signal <- struct{}{}:
	default:
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Run dispatches refreshes until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.signal:
		}
		for _, s := range h.drain() {
			if err := s.run(ctx, h.src); err != nil && ctx.Err() == nil {
				h.logger.Warn("livesync: refresh failed", "collection", s.query.Collection, "err", err)
			}
		}
	}
}

func (h *Hub) drain() []*Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	var streams []*Stream
	for collection := range h.pending {
		for s := range h.subs[collection] {
			streams = append(streams, s)
		}
		delete(h.pending, collection)
	}
	return streams
}

func (h *Hub) remove(s *Stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[s.query.Collection]
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.query.Collection)
		delete(h.pending, s.query.Collection)
	}
}

func fingerprint(docs []docstore.Document) [32]byte {
	hasher := blake3.New()
	for _, doc := range docs {
		hasher.Write([]byte(doc.ID))
		hasher.Write([]byte{0})
		hasher.Write(doc.Data)
		hasher.Write([]byte{0})
		hasher.Write([]byte(doc.CreatedAt.UTC().Format(time.RFC3339Nano)))
		hasher.Write([]byte{0})
	}
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}
