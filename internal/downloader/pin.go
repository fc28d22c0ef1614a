package downloader

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// PinRecord is one fingerprint observation for a host.
type PinRecord struct {
	Fingerprint string    `json:"fingerprint"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// PinStatus classifies the outcome of checking a freshly observed
// fingerprint against a host's pin history.
type PinStatus int

const (
	PinFirstSeen PinStatus = iota
	PinMatch
	PinRotatedAccepted
	PinMismatch
)

// PinStore is a JSON-file-backed certificate-pin history, one entry per
// host plus the full observation history for audit (spec §4.2 "appended
// to a pin-history file").
type PinStore struct {
	mu      sync.Mutex
	path    string
	current map[string]PinRecord
	history map[string][]PinRecord
}

type pinFile struct {
	Current map[string]PinRecord   `json:"current"`
	History map[string][]PinRecord `json:"history"`
}

// LoadPinStore reads path if it exists, or starts an empty store.
func LoadPinStore(path string) (*PinStore, error) {
	s := &PinStore{path: path, current: map[string]PinRecord{}, history: map[string][]PinRecord{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("downloader: read pin store %s: %w", path, err)
	}
	var f pinFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("downloader: parse pin store %s: %w", path, err)
	}
	if f.Current != nil {
		s.current = f.Current
	}
	if f.History != nil {
		s.history = f.History
	}
	return s, nil
}

func (s *PinStore) save() error {
	f := pinFile{Current: s.current, History: s.history}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("downloader: marshal pin store: %w", err)
	}
	if s.path == "" {
		return nil
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("downloader: write pin store %s: %w", s.path, err)
	}
	return nil
}

// Check compares fingerprint against host's currently pinned value and
// records it, applying the rotation-window rule: a mismatch is accepted
// silently as a rotation once the previous pin is older than
// rotationWindow; otherwise it is reported as a mismatch while the
// originally pinned fingerprint is retained.
func (s *PinStore) Check(host, fingerprint string, rotationWindow time.Duration, now time.Time) (PinStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[host] = append(s.history[host], PinRecord{Fingerprint: fingerprint, RecordedAt: now})

	existing, ok := s.current[host]
	if !ok {
		s.current[host] = PinRecord{Fingerprint: fingerprint, RecordedAt: now}
		return PinFirstSeen, s.save()
	}
	if existing.Fingerprint == fingerprint {
		return PinMatch, nil
	}
	if now.Sub(existing.RecordedAt) >= rotationWindow {
		s.current[host] = PinRecord{Fingerprint: fingerprint, RecordedAt: now}
		return PinRotatedAccepted, s.save()
	}
	return PinMismatch, s.save()
}
