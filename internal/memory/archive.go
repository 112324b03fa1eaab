package memory

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Filter selects archived entries on reads. All set fields must match
// (they are ANDed together), in contrast to the OR-based retirement
// criteria the active store uses when deciding what to archive.
type Filter struct {
	EventType       string
	MinSignificance *float64
	Since           *float64
	Until           *float64
}

func (f Filter) matches(e Entry) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.MinSignificance != nil && e.Significance < *f.MinSignificance {
		return false
	}
	if f.Since != nil && e.Timestamp < *f.Since {
		return false
	}
	if f.Until != nil && e.Timestamp > *f.Until {
		return false
	}
	return true
}

// Archive is the durable cold tier. Implementations hold the full entry
// list in memory and persist it wholesale on Save. None of them lock
// internally: callers must serialize concurrent access.
type Archive interface {
	AddEntry(e Entry)
	AddEntries(entries []Entry)
	Entries(f Filter) []Entry
	Len() int
	Save() error
	Load() error

	// discardLast undoes the most recent n appends. Used by the active
	// store to roll back a move whose persistence failed.
	discardLast(n int)
}

// ArchiveConfig is passed explicitly at construction. Nothing touches
// the filesystem until the first Save or Load.
type ArchiveConfig struct {
	Path string
}

// archiveBuffer holds the shared in-memory entry list behind every
// archive backend.
type archiveBuffer struct {
	entries []Entry
}

func (b *archiveBuffer) AddEntry(e Entry) {
	b.entries = append(b.entries, e)
}

func (b *archiveBuffer) AddEntries(entries []Entry) {
	b.entries = append(b.entries, entries...)
}

func (b *archiveBuffer) Entries(f Filter) []Entry {
	var out []Entry
	for _, e := range b.entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (b *archiveBuffer) Len() int { return len(b.entries) }

func (b *archiveBuffer) discardLast(n int) {
	if n <= 0 {
		return
	}
	if n > len(b.entries) {
		n = len(b.entries)
	}
	b.entries = b.entries[:len(b.entries)-n]
}

// FileArchive persists the archive as one JSON document: a single array
// of entry records written wholesale on Save, read wholesale on Load.
type FileArchive struct {
	archiveBuffer
	cfg    ArchiveConfig
	logger *zap.Logger
}

// NewFileArchive creates a file-backed archive. The file (and its
// directory) are only created on the first Save.
func NewFileArchive(cfg ArchiveConfig, logger *zap.Logger) *FileArchive {
	return &FileArchive{cfg: cfg, logger: logger}
}

// Save writes the full entry list to the configured path.
func (a *FileArchive) Save() error {
	data, err := json.Marshal(a.entries)
	if err != nil {
		return &PersistenceError{Op: "marshal", Path: a.cfg.Path, Err: err}
	}
	if dir := filepath.Dir(a.cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &PersistenceError{Op: "mkdir", Path: a.cfg.Path, Err: err}
		}
	}
	if err := os.WriteFile(a.cfg.Path, data, 0o644); err != nil {
		return &PersistenceError{Op: "write", Path: a.cfg.Path, Err: err}
	}
	a.logger.Debug("archive saved",
		zap.String("path", a.cfg.Path),
		zap.Int("entries", len(a.entries)))
	return nil
}

// Load reads the archive file. A missing or corrupt file is recovered
// locally: the archive starts empty and the problem is logged. Load
// never returns an error for unreadable data.
func (a *FileArchive) Load() error {
	data, err := os.ReadFile(a.cfg.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.logger.Debug("no archive file, starting empty", zap.String("path", a.cfg.Path))
		} else {
			a.logger.Warn("archive unreadable, starting empty",
				zap.String("path", a.cfg.Path), zap.Error(err))
		}
		a.entries = nil
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		cerr := &CorruptDataError{Path: a.cfg.Path, Err: err}
		a.logger.Warn("corrupt archive, starting empty", zap.Error(cerr))
		a.entries = nil
		return nil
	}

	a.entries = entries
	a.logger.Info("archive loaded",
		zap.String("path", a.cfg.Path),
		zap.Int("entries", len(a.entries)))
	return nil
}

// Path returns the backing file path.
func (a *FileArchive) Path() string { return a.cfg.Path }

var _ Archive = (*FileArchive)(nil)
