// Package memory is an in-process store. One mutex serialises transactions;
// each transaction works on a copy of the state that replaces the live state
// only when the transaction function returns nil.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"bookmanager/internal/catalog"
	"bookmanager/internal/circulation"
	"bookmanager/internal/eventstore"
	"bookmanager/internal/membership"
)

type categoryRow struct {
	catalog.Category
	nextSeq int
	deleted bool
}

type titleRow struct {
	catalog.Title
	copySeq int
}

type copyRow struct {
	catalog.Copy
	deleted bool
}

type state struct {
	categories map[int64]categoryRow
	titles     map[int64]titleRow
	copies     map[int64]copyRow
	readers    map[int64]membership.Reader
	admins     map[int64]membership.Admin
	loans      map[int64]circulation.Loan
	events     []eventstore.Event
	ids        map[string]int64
}

func newState() *state {
	return &state{
		categories: map[int64]categoryRow{},
		titles:     map[int64]titleRow{},
		copies:     map[int64]copyRow{},
		readers:    map[int64]membership.Reader{},
		admins:     map[int64]membership.Admin{},
		loans:      map[int64]circulation.Loan{},
		ids:        map[string]int64{},
	}
}

func (s *state) clone() *state {
	return &state{
		categories: maps.Clone(s.categories),
		titles:     maps.Clone(s.titles),
		copies:     maps.Clone(s.copies),
		readers:    maps.Clone(s.readers),
		admins:     maps.Clone(s.admins),
		loans:      maps.Clone(s.loans),
		events:     slices.Clip(s.events),
		ids:        maps.Clone(s.ids),
	}
}

func (s *state) nextID(table string) int64 {
	s.ids[table]++
	return s.ids[table]
}

func (s *state) streamVersion(streamID string) int {
	v := 0
	for _, e := range s.events {
		if e.StreamID == streamID && e.Version > v {
			v = e.Version
		}
	}
	return v
}

// Store holds the whole library in memory.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

type Option func(*Store)

// WithClock sets the time stamped on appended events.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{st: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Catalog() catalog.Store         { return catalogView{s} }
func (s *Store) Membership() membership.Store   { return membershipView{s} }
func (s *Store) Circulation() circulation.Store { return circulationView{s} }

// tx implements the Tx interfaces of every service package.
type tx struct {
	st  *state
	now func() time.Time
}

func (s *Store) inTx(ctx context.Context, fn func(*tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

// read runs fn against the committed state.
func (s *Store) read(fn func(*state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

func (t *tx) AppendEvents(_ context.Context, streamID, streamType string, expectedVersion int, events []eventstore.Event) error {
	stamped, err := eventstore.Sequence(t.st.streamVersion(streamID), expectedVersion, streamID, streamType, t.now(), events)
	if err != nil {
		return err
	}
	for i := range stamped {
		stamped[i].ID = t.st.nextID("events")
	}
	t.st.events = append(t.st.events, stamped...)
	return nil
}

func loadEvents(st *state, streamID string) []eventstore.Event {
	var out []eventstore.Event
	for _, e := range st.events {
		if e.StreamID == streamID {
			out = append(out, e)
		}
	}
	return out
}

// Events implements audit.EventFeed.
func (s *Store) Events(ctx context.Context, afterID int64, limit int) ([]eventstore.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []eventstore.Event{}
	s.read(func(st *state) {
		for _, e := range st.events {
			if len(out) == limit {
				break
			}
			if e.ID > afterID {
				out = append(out, e)
			}
		}
	})
	return out, nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	return slices.Sorted(maps.Keys(m))
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
