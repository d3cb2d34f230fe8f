// Package params holds the synthesis parameters shared between the caller
// and the playback worker.
package params

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownParameter is returned for a parameter name the store does not hold.
var ErrUnknownParameter = errors.New("unknown parameter")

// Name identifies a numeric parameter.
type Name string

const (
	Rate       Name = "rate"
	Pitch      Name = "pitch"
	Inflection Name = "inflection"
	Volume     Name = "volume"
)

// Parameters is a snapshot of the synthesis parameters.
type Parameters struct {
	Rate           int    `json:"rate"`
	Pitch          int    `json:"pitch"`
	TemporaryPitch int    `json:"temporary_pitch"`
	Inflection     int    `json:"inflection"`
	Volume         int    `json:"volume"`
	Voice          string `json:"voice"`
}

// Defaults returns the parameters a fresh session starts with.
func Defaults() Parameters {
	return Parameters{
		Rate:           50,
		Pitch:          50,
		TemporaryPitch: 50,
		Inflection:     50,
		Volume:         100,
		Voice:          "1",
	}
}

// Bounds is an inclusive numeric range.
type Bounds struct {
	Min int
	Max int
}

// Clamp limits v to the range.
func (b Bounds) Clamp(v int) int {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// Limits holds the valid range of every numeric parameter.
type Limits struct {
	Rate       Bounds
	Pitch      Bounds
	Inflection Bounds
	Volume     Bounds
}

// DefaultLimits returns 1-100 for every parameter.
func DefaultLimits() Limits {
	b := Bounds{Min: 1, Max: 100}
	return Limits{Rate: b, Pitch: b, Inflection: b, Volume: b}
}

// Store is the mutex-guarded parameter store.
// Every numeric write is clamped; out-of-range input is never rejected.
type Store struct {
	mu     sync.RWMutex
	p      Parameters
	limits Limits
}

// NewStore creates a store seeded with initial, clamped to limits.
func NewStore(initial Parameters, limits Limits) *Store {
	s := &Store{limits: limits}
	s.p = Parameters{
		Rate:           limits.Rate.Clamp(initial.Rate),
		Pitch:          limits.Pitch.Clamp(initial.Pitch),
		TemporaryPitch: limits.Pitch.Clamp(initial.Pitch),
		Inflection:     limits.Inflection.Clamp(initial.Inflection),
		Volume:         limits.Volume.Clamp(initial.Volume),
		Voice:          initial.Voice,
	}
	return s
}

// Snapshot returns a copy of the current parameters.
func (s *Store) Snapshot() Parameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

// Limits returns the configured ranges.
func (s *Store) Limits() Limits {
	return s.limits
}

// Get returns a numeric parameter.
func (s *Store) Get(name Name) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch name {
	case Rate:
		return s.p.Rate, nil
	case Pitch:
		return s.p.Pitch, nil
	case Inflection:
		return s.p.Inflection, nil
	case Volume:
		return s.p.Volume, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownParameter, name)
}

// Set writes a numeric parameter, clamped to its range.
// Setting the pitch also resets the temporary pitch.
func (s *Store) Set(name Name, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch name {
	case Rate:
		s.p.Rate = s.limits.Rate.Clamp(value)
	case Pitch:
		s.p.Pitch = s.limits.Pitch.Clamp(value)
		s.p.TemporaryPitch = s.p.Pitch
	case Inflection:
		s.p.Inflection = s.limits.Inflection.Clamp(value)
	case Volume:
		s.p.Volume = s.limits.Volume.Clamp(value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	return nil
}

// SetVoice selects the voice id.
func (s *Store) SetVoice(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.Voice = id
}

// SetTemporaryPitch changes the in-sequence pitch without touching the
// persisted pitch.
func (s *Store) SetTemporaryPitch(value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.TemporaryPitch = s.limits.Pitch.Clamp(value)
}

// ResetTemporaryPitch drops any in-sequence override.
func (s *Store) ResetTemporaryPitch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.TemporaryPitch = s.p.Pitch
}

// ClampPitch clamps v to the pitch range without storing it.
func (s *Store) ClampPitch(v int) int {
	return s.limits.Pitch.Clamp(v)
}
