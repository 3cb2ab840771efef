// Package cache is the control plane's local restart-resilience cache: an
// atomically-written JSON snapshot of run identity, baseline state, and the
// current quarantine set, so a process restart does not forget who it is or
// what it already knows (§6 "local-first persistence").
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// schemaVersion guards against loading a cache file written by an
// incompatible earlier layout; a mismatch is treated as if no cache file
// existed at all.
const schemaVersion = 1

// DefaultFlushInterval is how often the background flush loop checks for
// unsaved changes (§6).
const DefaultFlushInterval = 30 * time.Second

// state is the on-disk JSON shape.
type state struct {
	SchemaVersion int                       `json:"schema_version"`
	RunID         string                    `json:"run_id"`
	Baselines     map[string]map[string]any `json:"baselines"`
	Quarantine    []string                  `json:"quarantine"`
	APIKey        string                    `json:"api_key"`
}

func emptyState() state {
	return state{SchemaVersion: schemaVersion, Baselines: make(map[string]map[string]any)}
}

// Cache is a thread-safe, atomically-persisted local state snapshot.
type Cache struct {
	mu        sync.Mutex
	dir       string
	path      string
	dirty     bool
	st        state
	stopFlush chan struct{}
}

// New creates a Cache rooted at dir (the directory is created lazily on
// first Save) and attempts to Load any existing snapshot.
func New(dir string) *Cache {
	c := &Cache{
		dir:  dir,
		path: filepath.Join(dir, "state.json"),
		st:   emptyState(),
	}
	c.Load()
	return c
}

// Load reads the on-disk snapshot, discarding it (and starting fresh) if
// the file is missing, corrupt, or carries an unrecognized schema version.
func (c *Cache) Load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cache load failed, starting fresh", "path", c.path, "error", err)
		} else {
			slog.Info("no cache file found, starting fresh", "path", c.path)
		}
		return
	}

	var loaded state
	if err := json.Unmarshal(data, &loaded); err != nil {
		slog.Warn("cache file corrupt, starting fresh", "path", c.path, "error", err)
		return
	}
	if loaded.SchemaVersion != schemaVersion {
		slog.Warn("cache schema version mismatch, discarding stale cache",
			"file_version", loaded.SchemaVersion, "expected_version", schemaVersion)
		return
	}
	if loaded.Baselines == nil {
		loaded.Baselines = make(map[string]map[string]any)
	}

	c.mu.Lock()
	c.st = loaded
	c.mu.Unlock()
	slog.Info("cache loaded", "path", c.path, "run_id", loaded.RunID, "baselines", len(loaded.Baselines))
}

// Save atomically writes the current state to disk: write to a temp file
// in the same directory, then rename over the target, so a crash mid-write
// never leaves a corrupt cache file.
func (c *Cache) Save() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache: create dir: %w", err)
	}

	c.mu.Lock()
	data, err := json.MarshalIndent(c.st, "", "  ")
	c.dirty = false
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "state-*.tmp")
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("cache: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cache: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cache: rename: %w", err)
	}
	return os.Chmod(c.path, 0o600)
}

// SaveIfDirty flushes to disk only if something changed since the last Save.
func (c *Cache) SaveIfDirty() error {
	c.mu.Lock()
	dirty := c.dirty
	c.mu.Unlock()
	if !dirty {
		return nil
	}
	return c.Save()
}

func (c *Cache) markDirty() {
	c.dirty = true
}

// RunID returns the persisted run id, generating and persisting one on
// first use (SPEC_FULL supplement #3: run-id scoped store isolation).
func (c *Cache) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.RunID == "" {
		c.st.RunID = "run-" + uuid.NewString()[:12]
		c.markDirty()
	}
	return c.st.RunID
}

// SetRunID overrides the persisted run id (used when an operator pins a run
// id explicitly rather than letting the cache generate one).
func (c *Cache) SetRunID(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.RunID = runID
	c.markDirty()
}

// Baselines returns a shallow copy of every cached baseline snapshot.
func (c *Cache) Baselines() map[string]map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]map[string]any, len(c.st.Baselines))
	for k, v := range c.st.Baselines {
		out[k] = v
	}
	return out
}

// Baseline returns one agent's cached baseline snapshot, or nil if absent.
func (c *Cache) Baseline(agentID string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.Baselines[agentID]
}

// SetBaseline stores an agent's baseline snapshot.
func (c *Cache) SetBaseline(agentID string, profile map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.Baselines[agentID] = profile
	c.markDirty()
}

// Quarantine returns the currently cached quarantine set.
func (c *Cache) Quarantine() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.st.Quarantine))
	copy(out, c.st.Quarantine)
	return out
}

// SetQuarantine replaces the cached quarantine set wholesale.
func (c *Cache) SetQuarantine(agentIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.Quarantine = append([]string(nil), agentIDs...)
	c.markDirty()
}

// AddQuarantine adds an agent to the cached quarantine set (no-op if
// already present).
func (c *Cache) AddQuarantine(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.st.Quarantine {
		if id == agentID {
			return
		}
	}
	c.st.Quarantine = append(c.st.Quarantine, agentID)
	c.markDirty()
}

// RemoveQuarantine removes an agent from the cached quarantine set.
func (c *Cache) RemoveQuarantine(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, id := range c.st.Quarantine {
		if id == agentID {
			c.st.Quarantine = append(c.st.Quarantine[:i], c.st.Quarantine[i+1:]...)
			c.markDirty()
			return
		}
	}
}

// APIKey returns the ingest API key: an INGEST_API_KEY environment variable
// takes precedence, falling back to a cached value, auto-generating and
// persisting one on first use for local/dev convenience.
func (c *Cache) APIKey() string {
	if env := os.Getenv("INGEST_API_KEY"); env != "" {
		return env
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.APIKey == "" {
		c.st.APIKey = "imm-" + uuid.NewString()
		c.markDirty()
	}
	return c.st.APIKey
}

// StartFlushLoop runs a background ticker that saves dirty state every
// interval until stopCh is closed. Intended to run in its own goroutine,
// mirroring the orchestrator's other ticked background loops.
func (c *Cache) StartFlushLoop(interval time.Duration, stopCh <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := c.SaveIfDirty(); err != nil {
				slog.Warn("cache flush failed", "error", err)
			}
		}
	}
}

// Shutdown flushes any unsaved changes immediately. Call once the flush
// loop's goroutine has been signaled to stop.
func (c *Cache) Shutdown() {
	if err := c.SaveIfDirty(); err != nil {
		slog.Warn("final cache flush failed", "error", err)
	}
}
