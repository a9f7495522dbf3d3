// Package storage persists session reports under an opaque device
// identifier: a local JSON file store, with an optional cloud archive.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned when no report exists for the given keys.
var ErrNotFound = errors.New("report not found")

// Summary is the lightweight listing entry for a saved report.
type Summary struct {
	SessionID   string  `json:"session_id"`
	Timestamp   float64 `json:"timestamp"`
	AvgScore    float64 `json:"avg_score"`
	HookVerdict string  `json:"hook_verdict,omitempty"`
	TotalEvents int     `json:"total_events"`
}

// Store persists full report JSON documents keyed by device and session.
type Store interface {
	Save(deviceID, sessionID string, report []byte) error
	Load(deviceID, sessionID string) ([]byte, error)
	List(deviceID string) ([]Summary, error)
}

// FileStore keeps reports as Dir/<deviceID>/<sessionID>.json.
type FileStore struct {
	Dir string
}

// NewFileStore constructs a file store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) path(deviceID, sessionID string) string {
	return filepath.Join(s.Dir, sanitize(deviceID), sanitize(sessionID)+".json")
}

// sanitize keeps client-supplied identifiers from escaping the reports dir.
func sanitize(id string) string {
	id = strings.ReplaceAll(id, string(os.PathSeparator), "_")
	id = strings.ReplaceAll(id, "..", "_")
	return id
}

func (s *FileStore) Save(deviceID, sessionID string, report []byte) error {
	dir := filepath.Join(s.Dir, sanitize(deviceID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	path := s.path(deviceID, sessionID)
	if err := os.WriteFile(path, report, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	log.Printf("report saved: %s", path)
	return nil
}

func (s *FileStore) Load(deviceID, sessionID string) ([]byte, error) {
	b, err := os.ReadFile(s.path(deviceID, sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

// List returns lightweight summaries for a device, newest first. Corrupt
// report files are skipped with a warning rather than failing the listing.
func (s *FileStore) List(deviceID string) ([]Summary, error) {
	dir := filepath.Join(s.Dir, sanitize(deviceID))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Summary{}, nil
	}
	if err != nil {
		return nil, err
	}

	summaries := []Summary{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Printf("skipping unreadable report %s: %v", entry.Name(), err)
			continue
		}
		sum, err := summarize(b, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			log.Printf("skipping corrupt report %s: %v", entry.Name(), err)
			continue
		}
		summaries = append(summaries, sum)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Timestamp > summaries[j].Timestamp
	})
	return summaries, nil
}

func summarize(raw []byte, fallbackID string) (Summary, error) {
	var doc struct {
		SessionID string `json:"session_id"`
		Stats     struct {
			AvgScore    float64 `json:"avg_score"`
			TotalEvents int     `json:"total_events"`
		} `json:"stats"`
		HookEvaluation *struct {
			Verdict string `json:"verdict"`
		} `json:"hook_evaluation"`
		Timeline []struct {
			Timestamp float64 `json:"timestamp"`
		} `json:"timeline"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Summary{}, err
	}
	sum := Summary{
		SessionID:   doc.SessionID,
		AvgScore:    doc.Stats.AvgScore,
		TotalEvents: doc.Stats.TotalEvents,
	}
	if sum.SessionID == "" {
		sum.SessionID = fallbackID
	}
	if doc.HookEvaluation != nil {
		sum.HookVerdict = doc.HookEvaluation.Verdict
	}
	if len(doc.Timeline) > 0 {
		sum.Timestamp = doc.Timeline[0].Timestamp
	}
	return sum, nil
}
