package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"visualizer-backend/internal/models"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process. It is used by tests and by local
// development runs with STORE_TYPE=memory; records do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.Visualization
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]*models.Visualization),
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Create(ctx context.Context, v *models.Visualization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepareNew(v, s.now().UTC())
	if _, exists := s.records[v.ID]; exists {
		return ErrConflict
	}
	s.records[v.ID] = clone(v)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*models.Visualization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (s *MemoryStore) List(ctx context.Context, q ListQuery) ([]*models.Visualization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Visualization
	for _, v := range s.records {
		if v.UserID != q.UserID {
			continue
		}
		if q.ConversationID != "" && v.ConversationID != q.ConversationID {
			continue
		}
		out = append(out, clone(v))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > q.limit() {
		out = out[:q.limit()]
	}
	return out, nil
}

func (s *MemoryStore) Claim(ctx context.Context, id uuid.UUID, status models.Status, expiredBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if v.Status != status || leaseLive(v.ClaimedAt, expiredBefore) {
		return ErrConflict
	}
	now := s.now().UTC()
	v.ClaimedAt = &now
	v.UpdatedAt = now
	v.Version++
	return nil
}

func (s *MemoryStore) Transition(ctx context.Context, id uuid.UUID, from, to models.Status, a models.Artifacts) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if v.Status != from {
		return ErrConflict
	}
	a.Apply(v)
	v.Status = to
	v.ClaimedAt = nil
	v.UpdatedAt = s.now().UTC()
	v.Version++
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, id uuid.UUID, from models.Status, message string) error {
	if err := checkTransition(from, models.StatusFailed); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if v.Status != from {
		return ErrConflict
	}
	v.Status = models.StatusFailed
	v.ErrorMessage = message
	v.ClaimedAt = nil
	v.UpdatedAt = s.now().UTC()
	v.Version++
	return nil
}

func (s *MemoryStore) Stalled(ctx context.Context, updatedBefore time.Time, expired LeaseCutoffs, limit int) ([]*models.Visualization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Visualization
	for _, v := range s.records {
		if v.Status.IsTerminal() || !v.UpdatedAt.Before(updatedBefore) || !expired.expired(v.Status, v.ClaimedAt) {
			continue
		}
		out = append(out, clone(v))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func clone(v *models.Visualization) *models.Visualization {
	c := *v
	if v.ClaimedAt != nil {
		t := *v.ClaimedAt
		c.ClaimedAt = &t
	}
	return &c
}
