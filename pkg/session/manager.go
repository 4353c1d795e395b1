package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hollis/braid/internal/observability"
)

const transcriptExt = ".jsonl"

// Manager owns the transcript directory and hands out one Store per session
// key. Stores are cached so concurrent turns on the same session share a
// single append lock and a single in-memory view of the transcript.
type Manager struct {
	dir string

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a Manager rooted at dir, creating the directory when
// absent. An empty dir defaults to ~/.braid/transcripts.
func NewManager(dir string) (*Manager, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".braid", "transcripts")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	return &Manager{
		dir:    dir,
		stores: make(map[string]*Store),
	}, nil
}

// Dir returns the transcript directory.
func (m *Manager) Dir() string {
	return m.dir
}

// ValidateKey rejects session keys that cannot safely name a transcript file.
func ValidateKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "..") {
		return fmt.Errorf("session key cannot contain path traversal sequences")
	}
	if strings.ContainsAny(sessionKey, `/\`) {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.ContainsRune(sessionKey, 0) {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

// TranscriptPath returns the on-disk path for a session key without touching
// the filesystem.
func (m *Manager) TranscriptPath(sessionKey string) (string, error) {
	if err := ValidateKey(sessionKey); err != nil {
		return "", err
	}
	return filepath.Join(m.dir, sessionKey+transcriptExt), nil
}

// StoreFor returns the Store for a session key, opening (and creating) the
// transcript file on first use.
func (m *Manager) StoreFor(ctx context.Context, sessionKey string) (*Store, error) {
	path, err := m.TranscriptPath(sessionKey)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if st, ok := m.stores[sessionKey]; ok {
		m.mu.Unlock()
		return st, nil
	}
	m.mu.Unlock()

	// Load outside the manager lock; transcripts can be large.
	st, err := OpenWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript for %q: %w", sessionKey, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.stores[sessionKey]; ok {
		return cached, nil
	}
	m.stores[sessionKey] = st
	observability.SetActiveSessions(len(m.stores))
	return st, nil
}

// Evict drops the cached Store for a session key. The next StoreFor call
// reloads the transcript from disk.
func (m *Manager) Evict(sessionKey string) {
	m.mu.Lock()
	delete(m.stores, sessionKey)
	observability.SetActiveSessions(len(m.stores))
	m.mu.Unlock()
}

// ListSessions returns every session key with a transcript on disk, sorted.
// Archived transcripts live in a subdirectory and are not included.
func (m *Manager) ListSessions() ([]string, error) {
	dirEntries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript directory: %w", err)
	}

	keys := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), transcriptExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(de.Name(), transcriptExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// Info describes a transcript on disk.
type Info struct {
	SessionKey   string
	Path         string
	Size         int64
	LastModified time.Time
}

// Stat returns on-disk details for a session transcript.
func (m *Manager) Stat(sessionKey string) (Info, error) {
	path, err := m.TranscriptPath(sessionKey)
	if err != nil {
		return Info{}, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}

	return Info{
		SessionKey:   sessionKey,
		Path:         path,
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
	}, nil
}

// Delete removes a session transcript and drops its cached Store.
func (m *Manager) Delete(sessionKey string) error {
	path, err := m.TranscriptPath(sessionKey)
	if err != nil {
		return err
	}

	m.Evict(sessionKey)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}

	log.Debug().Str("session_key", sessionKey).Msg("Transcript deleted")
	return nil
}
