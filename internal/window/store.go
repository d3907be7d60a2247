// Package window keeps the last few heart-rate readings per officer and
// derives the rolling statistics the risk scorers work from.
package window

import (
	"sync"
	"time"

	"officer-vitals/internal/models"
)

// Window is an immutable snapshot of one officer's readings, newest first.
type Window struct {
	SubjectID string
	Readings  []models.Reading
}

func (w Window) Len() int {
	return len(w.Readings)
}

// Values returns the heart-rate values, newest first.
func (w Window) Values() []float64 {
	values := make([]float64, len(w.Readings))
	for i, r := range w.Readings {
		values[i] = r.Value
	}
	return values
}

// Newest returns the most recent reading, if any.
func (w Window) Newest() (models.Reading, bool) {
	if len(w.Readings) == 0 {
		return models.Reading{}, false
	}
	return w.Readings[0], true
}

// ring is a fixed-capacity FIFO; head points at the newest slot.
type ring struct {
	mu       sync.Mutex
	buf      []models.Reading
	head     int
	size     int
	lastSeen time.Time
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]models.Reading, capacity), head: -1}
}

func (r *ring) push(reading models.Reading) {
	r.head = (r.head + 1) % len(r.buf)
	r.buf[r.head] = reading
	if r.size < len(r.buf) {
		r.size++
	}
	r.lastSeen = time.Now()
}

func (r *ring) snapshot(subjectID string) Window {
	out := make([]models.Reading, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head - i + len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return Window{SubjectID: subjectID, Readings: out}
}

// Store holds one ring per officer. Appends for different officers never contend
// beyond the brief map lookup.
type Store struct {
	mu           sync.RWMutex
	capacity     int
	padColdStart bool
	windows      map[string]*ring
}

// NewStore creates a store keeping capacity readings per officer. When padColdStart
// is set, the first reading of an officer with no history fills the whole window.
func NewStore(capacity int, padColdStart bool) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		capacity:     capacity,
		padColdStart: padColdStart,
		windows:      make(map[string]*ring),
	}
}

func (s *Store) Capacity() int {
	return s.capacity
}

func (s *Store) ring(subjectID string) *ring {
	s.mu.RLock()
	r, ok := s.windows[subjectID]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.windows[subjectID]; ok {
		return r
	}
	r = newRing(s.capacity)
	s.windows[subjectID] = r
	return r
}

// Append adds a reading and returns the resulting window.
func (s *Store) Append(reading models.Reading) Window {
	r := s.ring(reading.SubjectID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 && s.padColdStart {
		for i := 0; i < s.capacity; i++ {
			r.push(reading)
		}
	} else {
		r.push(reading)
	}
	return r.snapshot(reading.SubjectID)
}

// Seed loads history (newest first) for an officer the store has not seen yet.
// It returns false and leaves state untouched if the officer already has a window.
// The ring is filled before it becomes visible to Append.
func (s *Store) Seed(subjectID string, history []models.Reading) bool {
	if len(history) > s.capacity {
		history = history[:s.capacity]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.windows[subjectID]; ok {
		return false
	}
	r := newRing(s.capacity)
	for i := len(history) - 1; i >= 0; i-- {
		r.push(history[i])
	}
	s.windows[subjectID] = r
	return true
}

// Has reports whether the officer already has a window.
func (s *Store) Has(subjectID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.windows[subjectID]
	return ok
}

func (s *Store) Get(subjectID string) (Window, bool) {
	s.mu.RLock()
	r, ok := s.windows[subjectID]
	s.mu.RUnlock()
	if !ok {
		return Window{SubjectID: subjectID}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(subjectID), true
}

// IdleSubjects lists officers whose window received nothing since cutoff.
func (s *Store) IdleSubjects(cutoff time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var idle []string
	for id, r := range s.windows {
		r.mu.Lock()
		if r.lastSeen.Before(cutoff) {
			idle = append(idle, id)
		}
		r.mu.Unlock()
	}
	return idle
}

// Remove drops the officer's window if it is still idle since cutoff.
func (s *Store) Remove(subjectID string, cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.windows[subjectID]
	if !ok {
		return false
	}
	r.mu.Lock()
	idle := r.lastSeen.Before(cutoff)
	r.mu.Unlock()
	if !idle {
		return false
	}
	delete(s.windows, subjectID)
	return true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}
