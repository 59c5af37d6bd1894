package recordings

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echosphere/backend/internal/models"
)

// memStore is an in-memory Store with the same version and uniqueness rules as Repository.
type memStore struct {
	mu        sync.Mutex
	recs      map[uuid.UUID]models.Recording
	owners    map[uuid.UUID]uuid.UUID // session -> user
	messages  []models.Message
	seq       int64
	conflicts int // number of upcoming Update calls to fail with ErrVersionConflict
	clock     time.Time
}

func newMemStore() *memStore {
	return &memStore{
		recs:   make(map[uuid.UUID]models.Recording),
		owners: make(map[uuid.UUID]uuid.UUID),
		clock:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) Create(_ context.Context, rec *models.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.SessionID == rec.SessionID && !r.Status.Terminal() {
			return ErrRecordingInProgress
		}
	}
	rec.Version = 1
	rec.CreatedAt = s.tick()
	rec.UpdatedAt = rec.CreatedAt
	s.recs[rec.ID] = *rec
	return nil
}

func (s *memStore) Update(_ context.Context, rec *models.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.recs[rec.ID]
	if !ok || cur.Version != rec.Version {
		return ErrVersionConflict
	}
	if s.conflicts > 0 {
		s.conflicts--
		cur.Version++
		s.recs[rec.ID] = cur
		return ErrVersionConflict
	}
	if rec.EgressID != "" {
		for id, r := range s.recs {
			if id != rec.ID && r.EgressID == rec.EgressID {
				return fmt.Errorf("duplicate egress id %s", rec.EgressID)
			}
		}
	}
	rec.Version++
	rec.UpdatedAt = s.tick()
	s.recs[rec.ID] = *rec
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *memStore) GetByEgressID(_ context.Context, egressID string) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.EgressID == egressID {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) GetActiveBySession(_ context.Context, sessionID uuid.UUID) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.SessionID == sessionID && !r.Status.Terminal() {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) page(match func(models.Recording) bool, page, pageSize int) ([]models.Recording, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.Recording
	for _, r := range s.recs {
		if match(r) {
			all = append(all, r)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []models.Recording{}, len(all), nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (s *memStore) ListBySession(_ context.Context, sessionID uuid.UUID, page, pageSize int) ([]models.Recording, int, error) {
	return s.page(func(r models.Recording) bool { return r.SessionID == sessionID }, page, pageSize)
}

func (s *memStore) ListByUser(_ context.Context, userID uuid.UUID, page, pageSize int) ([]models.Recording, int, error) {
	s.mu.Lock()
	owners := make(map[uuid.UUID]uuid.UUID, len(s.owners))
	for k, v := range s.owners {
		owners[k] = v
	}
	s.mu.Unlock()
	return s.page(func(r models.Recording) bool { return owners[r.SessionID] == userID }, page, pageSize)
}

func (s *memStore) ListByStatus(_ context.Context, status models.RecordingStatus, page, pageSize int) ([]models.Recording, int, error) {
	return s.page(func(r models.Recording) bool { return status == "" || r.Status == status }, page, pageSize)
}

func (s *memStore) AppendMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg.ID = uuid.New()
	msg.Seq = s.seq
	msg.CreatedAt = s.tick()
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *memStore) ListMessages(_ context.Context, recordingID uuid.UUID) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	for _, m := range s.messages {
		if m.RecordingID == recordingID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimestampMs != out[j].TimestampMs {
			return out[i].TimestampMs < out[j].TimestampMs
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// fakeGateway records commands and returns configured results.
type fakeGateway struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	starts   []string
	stops    []string
	next     int
}

func (g *fakeGateway) Start(_ context.Context, _ uuid.UUID, outputPrefix string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.starts = append(g.starts, outputPrefix)
	if g.startErr != nil {
		return "", g.startErr
	}
	g.next++
	return fmt.Sprintf("EG_%d", g.next), nil
}

func (g *fakeGateway) Stop(_ context.Context, jobID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stops = append(g.stops, jobID)
	return g.stopErr
}

func (g *fakeGateway) startCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.starts)
}

func (g *fakeGateway) stopCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.stops)
}

// fakeArtifacts resolves URLs against a fixed host and reports a fixed size.
type fakeArtifacts struct {
	size    int64
	sizeErr error
	heads   []string
}

func (a *fakeArtifacts) PlaylistURL(bucket, storagePath string) string {
	return "https://cdn.test/" + bucket + "/" + storagePath + "/index.m3u8"
}

func (a *fakeArtifacts) ObjectSize(_ context.Context, bucket, key string) (int64, error) {
	a.heads = append(a.heads, bucket+"/"+key)
	return a.size, a.sizeErr
}

// recordingObserver collects every notified state.
type recordingObserver struct {
	mu     sync.Mutex
	states []models.RecordingStatus
}

func (o *recordingObserver) RecordingChanged(_ context.Context, rec models.Recording) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, rec.Status)
}

func (o *recordingObserver) seen() []models.RecordingStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.RecordingStatus(nil), o.states...)
}
