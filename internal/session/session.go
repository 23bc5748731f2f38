// Package session owns the accumulated source and its last-good snapshot.
//
// Both documents live in memory and are mirrored to fixed files: the source
// file is what the compiler reads, the snapshot file is what a rollback
// restores from. Every mutation writes through, so a failed write is
// reported immediately and the caller is expected to abort the session.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"crepl/internal/accum"
	"crepl/internal/source"
)

// Paths locates the on-disk state of a session.
type Paths struct {
	Dir      string
	Source   string
	Snapshot string
	Binary   string
}

// DefaultPaths mirrors the historical repl-internals layout.
func DefaultPaths() Paths {
	return PathsIn("repl-internals")
}

// PathsIn returns the default file names inside dir.
func PathsIn(dir string) Paths {
	return Paths{
		Dir:      dir,
		Source:   filepath.Join(dir, "repl-content.c"),
		Snapshot: filepath.Join(dir, "prev-repl-content.c"),
		Binary:   filepath.Join(dir, "repl"),
	}
}

// Session tracks the current candidate and the last document that compiled.
type Session struct {
	paths    Paths
	tmpl     accum.Template
	current  source.Document
	lastGood source.Document
}

// Open prepares the work directory and resets the session to the skeleton.
func Open(paths Paths, tmpl accum.Template) (*Session, error) {
	if tmpl == nil {
		tmpl = accum.DefaultTemplate()
	}
	if paths.Source == "" || paths.Snapshot == "" {
		return nil, fmt.Errorf("session paths are incomplete: %+v", paths)
	}
	if paths.Dir != "" {
		if err := os.MkdirAll(paths.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create session dir: %w", err)
		}
	}
	s := &Session{paths: paths, tmpl: tmpl}
	if err := s.Reset(); err != nil {
		return nil, err
	}
	return s, nil
}

// Paths returns the configured file locations.
func (s *Session) Paths() Paths {
	return s.paths
}

// Reset overwrites current and lastGood with the skeleton and removes any
// stale binary. Calling it twice is the same as calling it once.
func (s *Session) Reset() error {
	skeleton := s.tmpl.Skeleton()
	if err := writeAtomic(s.paths.Source, skeleton); err != nil {
		return fmt.Errorf("failed to reset source: %w", err)
	}
	if err := writeAtomic(s.paths.Snapshot, skeleton); err != nil {
		return fmt.Errorf("failed to reset snapshot: %w", err)
	}
	if s.paths.Binary != "" {
		if err := os.Remove(s.paths.Binary); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove binary: %w", err)
		}
	}
	s.current = skeleton
	s.lastGood = skeleton.Clone()
	return nil
}

// Current returns a copy of the current document.
func (s *Session) Current() source.Document {
	return s.current.Clone()
}

// LastGood returns a copy of the last successfully compiled document.
func (s *Session) LastGood() source.Document {
	return s.lastGood.Clone()
}

// Commit makes candidate the current document. lastGood is untouched until
// Promote.
func (s *Session) Commit(candidate source.Document) error {
	doc := candidate.Clone()
	if err := writeAtomic(s.paths.Source, doc); err != nil {
		return fmt.Errorf("failed to write source: %w", err)
	}
	s.current = doc
	return nil
}

// Promote records the current document as the last good one.
func (s *Session) Promote() error {
	doc := s.current.Clone()
	if err := writeAtomic(s.paths.Snapshot, doc); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	s.lastGood = doc
	return nil
}

// Rollback discards the current document and restores lastGood.
func (s *Session) Rollback() error {
	doc := s.lastGood.Clone()
	if err := writeAtomic(s.paths.Source, doc); err != nil {
		return fmt.Errorf("failed to restore source: %w", err)
	}
	s.current = doc
	return nil
}

// writeAtomic пишет во временный файл и переименовывает, чтобы снапшот
// никогда не был виден наполовину.
func writeAtomic(path string, doc source.Document) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	if _, err := f.Write(doc.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
