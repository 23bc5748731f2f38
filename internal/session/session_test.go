package session

import (
	"os"
	"path/filepath"
	"testing"

	"crepl/internal/accum"
	"crepl/internal/source"
)

func openTemp(t *testing.T) *Session {
	t.Helper()
	s, err := Open(PathsIn(filepath.Join(t.TempDir(), "work")), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func readDoc(t *testing.T, path string) source.Document {
	t.Helper()
	doc, err := source.Load(path)
	if err != nil {
		t.Fatalf("load %s: %v", path, err)
	}
	return doc
}

func TestOpenWritesSkeleton(t *testing.T) {
	s := openTemp(t)
	skeleton := source.Split(accum.DefaultSkeleton)
	if !s.Current().Equal(skeleton) || !s.LastGood().Equal(skeleton) {
		t.Fatalf("session not at skeleton: current=%q lastGood=%q", s.Current(), s.LastGood())
	}
	if got := readDoc(t, s.Paths().Source); !got.Equal(skeleton) {
		t.Fatalf("source file = %q", got)
	}
	if got := readDoc(t, s.Paths().Snapshot); !got.Equal(skeleton) {
		t.Fatalf("snapshot file = %q", got)
	}
}

func TestRollbackRestoresLastGood(t *testing.T) {
	s := openTemp(t)
	good := source.Document{"int main(void) {", "int a;", "    // write here", "}"}
	if err := s.Commit(good); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.Promote(); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	before := s.LastGood()

	bad := source.Document{"int main(void) {", "int a;", "oops", "    // write here", "}"}
	if err := s.Commit(bad); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !s.Current().Equal(bad) {
		t.Fatalf("Commit did not update current")
	}
	if !s.LastGood().Equal(before) {
		t.Fatalf("Commit must not touch lastGood")
	}
	if err := s.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if s.Current().String() != before.String() {
		t.Fatalf("current after rollback = %q, want %q", s.Current(), before)
	}
	if got := readDoc(t, s.Paths().Source); got.String() != before.String() {
		t.Fatalf("source file after rollback = %q", got)
	}
}

func TestPromoteWritesSnapshot(t *testing.T) {
	s := openTemp(t)
	doc := source.Document{"#include <stdio.h>", "int main(void) {", "    // write here", "}"}
	if err := s.Commit(doc); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.Promote(); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if !s.LastGood().Equal(s.Current()) {
		t.Fatalf("lastGood != current after Promote")
	}
	if got := readDoc(t, s.Paths().Snapshot); !got.Equal(doc) {
		t.Fatalf("snapshot file = %q", got)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	s := openTemp(t)
	if err := s.Commit(source.Document{"x"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := os.WriteFile(s.Paths().Binary, []byte("bin"), 0o600); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Reset(); err != nil {
			t.Fatalf("Reset #%d: %v", i, err)
		}
	}
	skeleton := source.Split(accum.DefaultSkeleton)
	if !s.Current().Equal(skeleton) || !s.LastGood().Equal(skeleton) {
		t.Fatalf("Reset did not restore skeleton")
	}
	if _, err := os.Stat(s.Paths().Binary); !os.IsNotExist(err) {
		t.Fatalf("binary still present after Reset: %v", err)
	}
}

func TestCommitCopiesCandidate(t *testing.T) {
	s := openTemp(t)
	doc := source.Document{"a", "// write here"}
	if err := s.Commit(doc); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	doc[0] = "mutated"
	if s.Current()[0] != "a" {
		t.Fatalf("session shares storage with caller")
	}
}

func TestCommitFailsWhenDirRemoved(t *testing.T) {
	s := openTemp(t)
	if err := os.RemoveAll(s.Paths().Dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if err := s.Commit(source.Document{"x"}); err == nil {
		t.Fatalf("expected write error")
	}
	if s.Current().Equal(source.Document{"x"}) {
		t.Fatalf("failed Commit must not change current")
	}
}

func TestOpenRejectsIncompletePaths(t *testing.T) {
	if _, err := Open(Paths{Dir: t.TempDir()}, nil); err == nil {
		t.Fatalf("expected error for missing file paths")
	}
}
