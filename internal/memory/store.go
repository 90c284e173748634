// Package memory implements the append-only campaign memory log. Every
// entry is one JSON line in a single file; nothing is ever rewritten in
// place. Outcome changes are appended as amendment entries and folded into
// their targets on the read side, so the file stays a faithful history of
// what happened.
package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadflow/internal/logging"
	"leadflow/internal/types"
)

// Signal classifies what eventually happened to an outreach touch.
type Signal string

const (
	SignalUnknown Signal = "unknown"
	SignalReplied Signal = "replied"
	SignalBounced Signal = "bounced"
	SignalOpened  Signal = "opened"
	SignalClicked Signal = "clicked"
)

// Entry is one record in the memory log.
type Entry struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	LeadEmail   string    `json:"lead_email,omitempty"`
	Domain      string    `json:"domain,omitempty"`
	ContentSent string    `json:"content_sent,omitempty"`
	Outcome     Signal    `json:"outcome_signal"`
	Insight     string    `json:"derived_insight,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// outcomeOnly reports whether the entry is a bare amendment appended by
// RecordOutcome. Such entries fold into the records they amend and are not
// returned from Query themselves.
func (e Entry) outcomeOnly() bool {
	return e.ContentSent == "" && e.Insight == "" && e.Outcome != SignalUnknown && e.Outcome != ""
}

func (e Entry) key() string {
	return e.CampaignID + "|" + strings.ToLower(e.LeadEmail)
}

// Filter narrows a Query. Zero values mean "any".
type Filter struct {
	Domain          string
	Campaign        string
	ExcludeCampaign string
	Since           time.Time
	Limit           int
}

// Store is an append-only JSONL log. Appends serialize on the store mutex;
// queries open their own read handle so concurrent processes interleave at
// line granularity.
type Store struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open opens (or creates) the memory log at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &types.PersistenceError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &types.PersistenceError{Op: "open", Path: path, Err: err}
	}
	return &Store{path: path, file: file}, nil
}

// Append writes one entry to the log. The entry is durable before Append
// returns. A zero ID, outcome or timestamp is filled in.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Outcome == "" {
		e.Outcome = SignalUnknown
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.CampaignID == "" {
		return fmt.Errorf("memory entry requires a campaign id")
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal memory entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return &types.PersistenceError{Op: "append", Path: s.path, Err: fmt.Errorf("store closed")}
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return &types.PersistenceError{Op: "append", Path: s.path, Err: err}
	}
	if err := s.file.Sync(); err != nil {
		return &types.PersistenceError{Op: "sync", Path: s.path, Err: err}
	}

	logging.MemoryDebug("appended entry %s campaign=%s outcome=%s", e.ID, e.CampaignID, e.Outcome)
	return nil
}

// RecordOutcome appends an amendment entry carrying the new signal for a
// lead touch. Earlier entries are left untouched; Query folds the latest
// signal in.
func (s *Store) RecordOutcome(ctx context.Context, campaignID, leadEmail string, signal Signal) error {
	if signal == "" || signal == SignalUnknown {
		return fmt.Errorf("outcome signal required")
	}
	return s.Append(ctx, Entry{
		CampaignID: campaignID,
		LeadEmail:  strings.ToLower(strings.TrimSpace(leadEmail)),
		Outcome:    signal,
	})
}

// Query returns entries matching the filter, newest first, with outcome
// amendments folded into the entries they target. Corrupt lines are skipped.
func (s *Store) Query(ctx context.Context, f Filter) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &types.PersistenceError{Op: "read", Path: s.path, Err: err}
	}
	defer file.Close()

	var all []Entry
	skipped := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			skipped++
			continue
		}
		all = append(all, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, &types.PersistenceError{Op: "scan", Path: s.path, Err: err}
	}
	if skipped > 0 {
		logging.Get(logging.CategoryMemory).Warn("skipped %d corrupt lines in %s", skipped, s.path)
	}

	// Later amendments win; file order is chronological.
	latest := make(map[string]Signal)
	for _, e := range all {
		if e.LeadEmail != "" && e.Outcome != "" && e.Outcome != SignalUnknown {
			latest[e.key()] = e.Outcome
		}
	}

	var out []Entry
	for _, e := range all {
		if e.outcomeOnly() {
			continue
		}
		if sig, ok := latest[e.key()]; ok && e.LeadEmail != "" {
			e.Outcome = sig
		}
		if !matches(e, f) {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(e Entry, f Filter) bool {
	if f.Domain != "" && !strings.EqualFold(e.Domain, f.Domain) {
		return false
	}
	if f.Campaign != "" && e.CampaignID != f.Campaign {
		return false
	}
	if f.ExcludeCampaign != "" && e.CampaignID == f.ExcludeCampaign {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Close closes the append handle. Queries still work afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
