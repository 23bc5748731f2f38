// Package dcache remembers compile failures so an identical candidate is not
// handed to the compiler twice.
//
// Only failures are stored. Callers key an entry on everything the compile
// depends on: the resolved compiler and its reported version, the flags, and
// the preprocessed translation unit, so that a changed header or include path
// produces a different key. Program output is never cached.
package dcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Current schema version - increment when Entry format changes
const schemaVersion uint16 = 2

// Key identifies a compiler invocation on a given source.
type Key [32]byte

// String returns the hex form used as a file name.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// KeyFor hashes the compiler identity, its flags and the preprocessed unit.
func KeyFor(identity string, flags []string, unit []byte) Key {
	h := sha256.New()
	writeField(h, []byte(identity))
	for _, f := range flags {
		writeField(h, []byte(f))
	}
	writeField(h, unit)
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

func writeField(h interface{ Write([]byte) (int, error) }, data []byte) {
	var n [8]byte
	size := uint64(len(data))
	for i := range n {
		n[i] = byte(size >> (8 * i))
	}
	_, _ = h.Write(n[:])
	_, _ = h.Write(data)
}

// Entry is what gets stored per key.
type Entry struct {
	Schema      uint16
	Diagnostics string
	ExitCode    int
	StoredAt    int64
}

// Cache stores entries as msgpack files under dir.
// Thread-safe for concurrent access.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// Open returns a cache rooted at dir, creating it if needed.
func Open(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("dcache: empty directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("dcache: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// OpenDefault opens the cache at $XDG_CACHE_HOME/<app> or ~/.cache/<app>.
func OpenDefault(app string) (*Cache, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".cache")
	}
	return Open(filepath.Join(base, app))
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

func (c *Cache) pathFor(key Key) string {
	return filepath.Join(c.dir, "fail", key.String()+".mp")
}

// Put serializes and writes an entry.
func (c *Cache) Put(key Key, entry Entry) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.Schema = schemaVersion
	if entry.StoredAt == 0 {
		entry.StoredAt = time.Now().Unix()
	}

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	if err := msgpack.NewEncoder(f).Encode(&entry); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	// Атомарная замена
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Get reads an entry. A missing file or a stale schema is a miss.
func (c *Cache) Get(key Key) (Entry, bool, error) {
	if c == nil {
		return Entry{}, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	// #nosec G304 -- path is derived from the cache root and a hex digest
	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	defer func() {
		_ = f.Close()
	}()

	var entry Entry
	if err := msgpack.NewDecoder(f).Decode(&entry); err != nil {
		return Entry{}, false, err
	}
	if entry.Schema != schemaVersion {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// DropAll removes every stored entry.
func (c *Cache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return os.RemoveAll(filepath.Join(c.dir, "fail"))
}
