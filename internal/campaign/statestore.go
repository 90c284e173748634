package campaign

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"leadflow/internal/types"
)

// ============================================================================
// CAMPAIGN STATE STORE
// ============================================================================

const (
	stateFile  = "state.json"
	reportFile = "report.json"
	lockFile   = ".lock"
)

// ErrNotFound is returned by Load for an unknown campaign ID.
var ErrNotFound = errors.New("campaign not found")

// ErrCampaignLocked is returned when another live process holds the
// campaign's run lock.
var ErrCampaignLocked = errors.New("campaign is locked by another process")

// FileStore persists campaigns as plain JSON documents, one directory per
// campaign ID. Saves are atomic (temp file, fsync, rename), so a reader
// always sees the previous or the new snapshot, never a torn one. The run
// lock enforces a single writer per campaign ID across processes.
type FileStore struct {
	root string
}

// NewFileStore opens (creating if needed) a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &types.PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}
	return &FileStore{root: dir}, nil
}

// Root returns the campaigns directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) dir(id string) string {
	return filepath.Join(s.root, id)
}

// validateID rejects IDs that would escape the campaigns directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty campaign id")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("campaign id %q contains path elements", id)
	}
	return nil
}

// Load reads the current snapshot for id. Returns ErrNotFound for unknown
// campaigns; any other failure is a PersistenceError.
func (s *FileStore) Load(id string) (*Campaign, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir(id), stateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &types.PersistenceError{Op: "read", Path: path, Err: err}
	}
	var c Campaign
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &types.PersistenceError{Op: "decode", Path: path, Err: err}
	}
	if c.Leads == nil {
		c.Leads = make(map[string]*LeadRecord)
	}
	if c.Insights == nil {
		c.Insights = make(map[string]string)
	}
	return &c, nil
}

// Save writes a full snapshot atomically: marshal to a temp file in the
// campaign directory, fsync, then rename over state.json.
func (s *FileStore) Save(c *Campaign) error {
	if err := validateID(c.ID); err != nil {
		return err
	}
	dir := s.dir(c.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &types.PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return &types.PersistenceError{Op: "encode", Path: dir, Err: err}
	}
	return s.writeAtomic(filepath.Join(dir, stateFile), data)
}

// SaveReport writes the final report beside the state snapshot.
func (s *FileStore) SaveReport(id string, rep *Report) error {
	if err := validateID(id); err != nil {
		return err
	}
	dir := s.dir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &types.PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return &types.PersistenceError{Op: "encode", Path: dir, Err: err}
	}
	return s.writeAtomic(filepath.Join(dir, reportFile), data)
}

// LoadReport reads a campaign's final report, ErrNotFound if absent.
func (s *FileStore) LoadReport(id string) (*Report, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir(id), reportFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &types.PersistenceError{Op: "read", Path: path, Err: err}
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, &types.PersistenceError{Op: "decode", Path: path, Err: err}
	}
	return &rep, nil
}

func (s *FileStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return &types.PersistenceError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &types.PersistenceError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &types.PersistenceError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &types.PersistenceError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &types.PersistenceError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// List returns known campaign IDs, newest first by directory name (IDs sort
// chronologically because they start with the creation date).
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &types.PersistenceError{Op: "list", Path: s.root, Err: err}
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), stateFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// ============================================================================
// SINGLE-WRITER LOCK
// ============================================================================

// Lock takes the single-writer run lock for a campaign ID and returns a
// release func. A lock held by a dead process is stale and gets reclaimed;
// a lock held by a live process yields ErrCampaignLocked.
func (s *FileStore) Lock(id string) (func(), error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	dir := s.dir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &types.PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}
	path := filepath.Join(dir, lockFile)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, &types.PersistenceError{Op: "lock", Path: path, Err: err}
		}
		if !lockIsStale(path) {
			return nil, fmt.Errorf("%w: %s", ErrCampaignLocked, id)
		}
		// Holder is gone; clear the stale lock and try once more.
		os.Remove(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrCampaignLocked, id)
}

// lockIsStale reports whether the lock file's recorded PID no longer names a
// live process. Unreadable lock files count as stale.
func lockIsStale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	// Signal 0 probes existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) != nil
}
