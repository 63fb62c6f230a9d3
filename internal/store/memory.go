package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errhub/pkg/models"
)

// MemoryStore is an in-process Store. Each fingerprint owns its own mutex, so
// occurrences of unrelated errors never wait on each other.
type MemoryStore struct {
	byFingerprint sync.Map // string -> *memRecord
	byID          sync.Map // uuid.UUID -> *memRecord

	keysMu sync.RWMutex
	keys   []*models.APIKey
}

type memRecord struct {
	mu      sync.Mutex
	rec     *models.ErrorRecord // nil until the first occurrence has been written
	history []*models.StatusChange
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- Error Records ---

func (s *MemoryStore) UpsertErrorRecord(_ context.Context, rec *models.ErrorRecord, opts UpsertOptions) (*UpsertResult, error) {
	now := opts.now()

	v, _ := s.byFingerprint.LoadOrStore(rec.Fingerprint, &memRecord{})
	entry := v.(*memRecord)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.rec == nil {
		created := rec.Clone()
		if created.ID == uuid.Nil {
			created.ID = uuid.New()
		}
		created.OccurrenceCount = 1
		created.FirstOccurrence = now
		created.LastOccurrence = now
		created.ResolutionStatus = models.StatusNew
		created.StatusChangedAt = now
		created.CreatedAt = now
		created.UpdatedAt = now
		entry.rec = created
		s.byID.Store(created.ID, entry)
		return &UpsertResult{Record: created.Clone(), Created: true}, nil
	}

	cur := entry.rec
	cur.OccurrenceCount++
	if now.After(cur.LastOccurrence) {
		cur.LastOccurrence = now
	}
	cur.Message = rec.Message
	cur.Details = rec.Details
	cur.Context = rec.Context
	cur.UpdatedAt = now

	reopened := false
	if opts.reopens(cur.ResolutionStatus) {
		entry.history = append(entry.history, &models.StatusChange{
			ID:         uuid.New(),
			RecordID:   cur.ID,
			FromStatus: cur.ResolutionStatus,
			ToStatus:   models.StatusNew,
			Actor:      models.ActorSystem,
			AssignedTo: cur.AssignedTo,
			CreatedAt:  now,
		})
		cur.ResolutionStatus = models.StatusNew
		cur.StatusChangedAt = now
		reopened = true
	}

	return &UpsertResult{Record: cur.Clone(), Reopened: reopened}, nil
}

func (s *MemoryStore) entry(id uuid.UUID) (*memRecord, bool) {
	v, ok := s.byID.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*memRecord), true
}

func (s *MemoryStore) GetErrorRecord(_ context.Context, id uuid.UUID) (*models.ErrorRecord, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

// snapshot copies every stored record, locking one record at a time.
func (s *MemoryStore) snapshot() []*models.ErrorRecord {
	var out []*models.ErrorRecord
	s.byID.Range(func(_, v any) bool {
		e := v.(*memRecord)
		e.mu.Lock()
		out = append(out, e.rec.Clone())
		e.mu.Unlock()
		return true
	})
	return out
}

func (f RecordFilter) matches(r *models.ErrorRecord) bool {
	switch {
	case f.Type != "" && r.Type != f.Type:
		return false
	case f.Impact != "" && r.BusinessImpact != f.Impact:
		return false
	case f.Status != "" && r.ResolutionStatus != f.Status:
		return false
	case f.AssignedTo != "" && (r.AssignedTo == nil || *r.AssignedTo != f.AssignedTo):
		return false
	case f.Environment != "" && r.Environment != f.Environment:
		return false
	case f.Fingerprint != nil && r.Fingerprint != *f.Fingerprint:
		return false
	case !f.Since.IsZero() && r.LastOccurrence.Before(f.Since):
		return false
	case !f.Until.IsZero() && r.LastOccurrence.After(f.Until):
		return false
	}
	return true
}

func (s *MemoryStore) ListErrorRecords(_ context.Context, filter RecordFilter) ([]*models.ErrorRecord, int, error) {
	matched := []*models.ErrorRecord{}
	for _, r := range s.snapshot() {
		if filter.matches(r) {
			matched = append(matched, r)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].LastOccurrence.Equal(matched[j].LastOccurrence) {
			return matched[i].LastOccurrence.After(matched[j].LastOccurrence)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	_, limit, offset := Pagination(filter.Page, filter.Limit)
	if offset >= total {
		return []*models.ErrorRecord{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) SummarizeErrorRecords(_ context.Context, since time.Time) (*models.Summary, error) {
	sum := newSummary(since)
	for _, r := range s.snapshot() {
		if !since.IsZero() && r.LastOccurrence.Before(since) {
			continue
		}
		addRecord(sum, r)
	}
	return sum, nil
}

func (s *MemoryStore) TransitionErrorRecord(_ context.Context, id uuid.UUID, t Transition) (*models.ErrorRecord, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := NextStatus(e.rec.ResolutionStatus, t)
	if err != nil {
		return nil, err
	}

	at := t.at()
	assignee := t.assignee(e.rec.AssignedTo)
	e.history = append(e.history, &models.StatusChange{
		ID:         uuid.New(),
		RecordID:   id,
		FromStatus: e.rec.ResolutionStatus,
		ToStatus:   next,
		Actor:      t.Actor,
		AssignedTo: assignee,
		CreatedAt:  at,
	})
	e.rec.ResolutionStatus = next
	e.rec.AssignedTo = assignee
	e.rec.StatusChangedAt = at
	e.rec.UpdatedAt = at
	return e.rec.Clone(), nil
}

func (s *MemoryStore) ListStatusChanges(_ context.Context, recordID uuid.UUID) ([]*models.StatusChange, error) {
	e, ok := s.entry(recordID)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*models.StatusChange, 0, len(e.history))
	for _, c := range e.history {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.keysMu.RLock()
	defer s.keysMu.RUnlock()

	out := []*models.APIKey{}
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()

	for _, k := range s.keys {
		if k.ID == id {
			now := time.Now().UTC()
			k.LastUsedAt = &now
			k.UpdatedAt = now
		}
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()

	for _, k := range s.keys {
		if k.ID == key.ID || (k.Name == key.Name && k.DeletedAt == nil) {
			return ErrDuplicateKey
		}
	}
	cp := *key
	s.keys = append(s.keys, &cp)
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	s.keysMu.RLock()
	defer s.keysMu.RUnlock()

	out := []*models.APIKey{}
	for i := len(s.keys) - 1; i >= 0; i-- {
		if k := s.keys[i]; k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()

	for _, k := range s.keys {
		if k.ID == id && k.DeletedAt == nil {
			now := time.Now().UTC()
			k.DeletedAt = &now
			k.UpdatedAt = now
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) CountAPIKeys(_ context.Context) (int, error) {
	s.keysMu.RLock()
	defer s.keysMu.RUnlock()

	n := 0
	for _, k := range s.keys {
		if k.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
