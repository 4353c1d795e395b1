package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hollis/braid/internal/observability"
	"github.com/hollis/braid/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// maxLineBytes bounds a single transcript line on load. Assistant turns can
// run long; the default bufio.Scanner token size is too small for them.
const maxLineBytes = 4 << 20

// Store is an append-only transcript backed by a newline-delimited JSON
// file. Entries are kept in memory in append order; the file is the source
// of truth and is synced on every append. A Store never rewrites or deletes
// existing lines.
type Store struct {
	path    string
	mu      sync.Mutex
	entries []Entry
}

// Open opens the transcript file at path, creating it (and its parent
// directory) if absent. Existing entries are loaded in order; lines that do
// not parse are skipped with a warning rather than failing the open.
func Open(path string) (*Store, error) {
	return OpenWithContext(context.Background(), path)
}

// OpenWithContext opens a transcript store with tracing context.
func OpenWithContext(ctx context.Context, path string) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"braid.session",
		"transcript.open",
		attribute.String("path", path),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("transcript", path).Logger()
	start := time.Now()
	defer func() {
		observability.RecordTranscriptLoad(time.Since(start))
	}()

	if path == "" {
		return nil, fmt.Errorf("transcript path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	s := &Store{path: path}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNum := 0
	skipped := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			skipped++
			logger.Warn().
				Int("line", lineNum).
				Err(err).
				Msg("Skipping unparseable transcript line")
			continue
		}
		s.entries = append(s.entries, entry)
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read transcript file: %w", err)
	}

	if skipped > 0 {
		logger.Warn().
			Int("skipped", skipped).
			Int("loaded", len(s.entries)).
			Msg("Transcript loaded with unparseable lines")
	} else {
		logger.Debug().Int("entries", len(s.entries)).Msg("Transcript loaded")
	}

	return s, nil
}

// Path returns the transcript file path.
func (s *Store) Path() string {
	return s.path
}

// Append durably writes one entry to the transcript file and extends the
// in-memory view. The write is synced before Append returns; ordering is
// strict append order.
func (s *Store) Append(ctx context.Context, entry Entry) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"braid.session",
		"transcript.append",
		attribute.String("path", s.path),
		attribute.String("type", string(entry.Type)),
	)
	defer span.End()
	start := time.Now()
	ok := false
	defer func() {
		observability.RecordTranscriptAppend(time.Since(start), ok)
	}()

	switch entry.Type {
	case EntryTypeMessage:
		if entry.Message == nil || entry.Message.Role == "" {
			return fmt.Errorf("message entry requires a role")
		}
		if entry.Message.Content == "" {
			return fmt.Errorf("message entry requires content")
		}
	case EntryTypeCustom:
		if entry.CustomType == "" {
			return fmt.Errorf("custom entry requires a customType")
		}
	default:
		return fmt.Errorf("unknown entry type: %q", entry.Type)
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.ID == "" {
		entry.ID = newEntryID()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync transcript file: %w", err)
	}

	s.entries = append(s.entries, entry)
	ok = true

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("transcript", s.path).
		Str("type", string(entry.Type)).
		Msg("Entry appended")

	return nil
}

// Entries returns a snapshot of all entries in append order. The returned
// slice is owned by the caller; mutating it does not affect the store.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries currently in the transcript.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// CountUserMessages returns the number of user conversational turns.
func (s *Store) CountUserMessages() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.IsUserMessage() {
			n++
		}
	}
	return n
}

// HasCustomMarker reports whether a custom entry with the given customType
// has already been appended to this transcript. The scan is over durable
// entries, so the answer survives process restarts.
func (s *Store) HasCustomMarker(customType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.Type == EntryTypeCustom && e.CustomType == customType {
			return true
		}
	}
	return false
}
