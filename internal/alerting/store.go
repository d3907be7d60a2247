package alerting

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"officer-vitals/internal/models"
)

var (
	ErrAlertNotFound          = errors.New("alert not found")
	ErrTerminalAlert          = errors.New("alert is resolved or dismissed")
	ErrRecommendationNotFound = errors.New("recommendation not found")
	ErrTerminalRecommendation = errors.New("recommendation is resolved")
)

// AlertStore backs the lifecycle manager. An alert is active when its status is
// Pending or Acknowledged and it was created within the cooldown before now.
type AlertStore interface {
	// FindActive returns the most recently created active alert, or nil.
	FindActive(subjectID string, cooldown time.Duration, now time.Time) (*models.Alert, error)
	ListActive(subjectID string, cooldown time.Duration, now time.Time) ([]*models.Alert, error)
	Get(id string) (*models.Alert, error)
	Create(alert *models.Alert) error
	Update(alert *models.Alert) error
}

// RecommendationStore backs the recommendation generator.
type RecommendationStore interface {
	// FindActivePending returns the most recent Pending recommendation created within window before now, or nil.
	FindActivePending(subjectID string, window time.Duration, now time.Time) (*models.Recommendation, error)
	Create(rec *models.Recommendation) error
}

func isActive(a *models.Alert, cooldown time.Duration, now time.Time) bool {
	return !a.Status.IsTerminal() && !a.CreatedAt.Before(now.Add(-cooldown))
}

// MemoryAlertStore keeps alerts in process memory. Callers always receive copies.
type MemoryAlertStore struct {
	mu        sync.RWMutex
	alerts    map[string]*models.Alert
	bySubject map[string][]string
}

func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{
		alerts:    make(map[string]*models.Alert),
		bySubject: make(map[string][]string),
	}
}

func (s *MemoryAlertStore) FindActive(subjectID string, cooldown time.Duration, now time.Time) (*models.Alert, error) {
	active, _ := s.ListActive(subjectID, cooldown, now)
	if len(active) == 0 {
		return nil, nil
	}
	return active[0], nil
}

// ListActive returns active alerts newest first.
func (s *MemoryAlertStore) ListActive(subjectID string, cooldown time.Duration, now time.Time) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Alert
	for _, id := range s.bySubject[subjectID] {
		if a := s.alerts[id]; isActive(a, cooldown, now) {
			out = append(out, a.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryAlertStore) Get(id string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryAlertStore) Create(alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.ID]; !ok {
		s.bySubject[alert.SubjectID] = append(s.bySubject[alert.SubjectID], alert.ID)
	}
	s.alerts[alert.ID] = alert.Clone()
	return nil
}

func (s *MemoryAlertStore) Update(alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.ID]; !ok {
		return ErrAlertNotFound
	}
	s.alerts[alert.ID] = alert.Clone()
	return nil
}

// Prune forgets alerts created before cutoff and returns how many were dropped.
func (s *MemoryAlertStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for subject, ids := range s.bySubject {
		kept := ids[:0]
		for _, id := range ids {
			if s.alerts[id].CreatedAt.Before(cutoff) {
				delete(s.alerts, id)
				dropped++
				continue
			}
			kept = append(kept, id)
		}
		if len(kept) == 0 {
			delete(s.bySubject, subject)
		} else {
			s.bySubject[subject] = kept
		}
	}
	return dropped
}

func (s *MemoryAlertStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

type MemoryRecommendationStore struct {
	mu        sync.RWMutex
	recs      map[string]*models.Recommendation
	bySubject map[string][]string
}

func NewMemoryRecommendationStore() *MemoryRecommendationStore {
	return &MemoryRecommendationStore{
		recs:      make(map[string]*models.Recommendation),
		bySubject: make(map[string][]string),
	}
}

func (s *MemoryRecommendationStore) FindActivePending(subjectID string, window time.Duration, now time.Time) (*models.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *models.Recommendation
	cutoff := now.Add(-window)
	for _, id := range s.bySubject[subjectID] {
		r := s.recs[id]
		if r.Status != models.RecommendationPending || r.CreatedAt.Before(cutoff) {
			continue
		}
		if newest == nil || r.CreatedAt.After(newest.CreatedAt) {
			newest = r
		}
	}
	if newest == nil {
		return nil, nil
	}
	c := *newest
	return &c, nil
}

func (s *MemoryRecommendationStore) Create(rec *models.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.ID]; !ok {
		s.bySubject[rec.SubjectID] = append(s.bySubject[rec.SubjectID], rec.ID)
	}
	c := *rec
	s.recs[rec.ID] = &c
	return nil
}

func (s *MemoryRecommendationStore) Get(id string) (*models.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recs[id]
	if !ok {
		return nil, ErrRecommendationNotFound
	}
	c := *r
	return &c, nil
}

// SetStatus moves a recommendation to Acknowledged or Resolved. Resolved is final.
func (s *MemoryRecommendationStore) SetStatus(id string, status models.RecommendationStatus, now time.Time) (*models.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return nil, ErrRecommendationNotFound
	}
	if r.Status == models.RecommendationResolved {
		return nil, fmt.Errorf("recommendation %s: %w", id, ErrTerminalRecommendation)
	}
	r.Status = status
	r.UpdatedAt = now
	c := *r
	return &c, nil
}

// Prune forgets recommendations created before cutoff.
func (s *MemoryRecommendationStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for subject, ids := range s.bySubject {
		kept := ids[:0]
		for _, id := range ids {
			if s.recs[id].CreatedAt.Before(cutoff) {
				delete(s.recs, id)
				dropped++
				continue
			}
			kept = append(kept, id)
		}
		if len(kept) == 0 {
			delete(s.bySubject, subject)
		} else {
			s.bySubject[subject] = kept
		}
	}
	return dropped
}
