// Package blacklist persists the set of catalog ids that must never be
// recommended.
package blacklist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

// ErrCorrupt is returned by mutations when the stored file cannot be parsed.
var ErrCorrupt = errors.New("blacklist file is corrupt")

// Set is a set of primary ids.
type Set map[int]struct{}

// NewSet builds a set from ids.
func NewSet(ids ...int) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is in the set.
func (s Set) Contains(id int) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s Set) Sorted() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Store is a JSON file of ids guarded by a process mutex and an OS file lock,
// so concurrent requests and concurrent processes never lose updates.
type Store struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewStore returns a store backed by path. The file need not exist.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// withLock runs fn while holding both locks. Release happens on every exit
// path, including panics in fn.
func (s *Store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating blacklist directory: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("locking blacklist: %w", err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			log.Warn().Err(err).Msg("Failed to release blacklist lock")
		}
	}()
	return fn()
}

// Load returns the current set. A missing file is an empty set; a corrupt
// file is logged and treated as empty so recommendations keep working.
func (s *Store) Load() (Set, error) {
	var set Set
	err := s.withLock(func() error {
		var err error
		set, err = s.read()
		if errors.Is(err, ErrCorrupt) {
			log.Warn().Err(err).Str("path", s.path).Msg("Ignoring corrupt blacklist")
			set, err = Set{}, nil
		}
		return err
	})
	return set, err
}

// List returns the blacklisted ids in ascending order.
func (s *Store) List() ([]int, error) {
	set, err := s.Load()
	if err != nil {
		return nil, err
	}
	return set.Sorted(), nil
}

// Add inserts ids and returns the ones that were not already present.
func (s *Store) Add(ids ...int) ([]int, error) {
	return s.update(func(set Set) []int {
		var added []int
		for _, id := range ids {
			if !set.Contains(id) {
				set[id] = struct{}{}
				added = append(added, id)
			}
		}
		return added
	})
}

// Remove deletes ids and returns the ones that were present.
func (s *Store) Remove(ids ...int) ([]int, error) {
	return s.update(func(set Set) []int {
		var removed []int
		for _, id := range ids {
			if set.Contains(id) {
				delete(set, id)
				removed = append(removed, id)
			}
		}
		return removed
	})
}

// update performs one read-modify-write cycle under the lock. The file is
// only rewritten when fn reports a change.
func (s *Store) update(fn func(Set) []int) ([]int, error) {
	var changed []int
	err := s.withLock(func() error {
		set, err := s.read()
		if err != nil {
			return err
		}
		changed = fn(set)
		if len(changed) == 0 {
			return nil
		}
		return s.write(set)
	})
	if err != nil {
		return nil, err
	}
	sort.Ints(changed)
	return changed, nil
}

// Version is a token that changes whenever the file is rewritten. It is "0"
// when no file exists.
func (s *Store) Version() string {
	info, err := os.Stat(s.path)
	if err != nil {
		return "0"
	}
	return strconv.FormatInt(info.ModTime().UnixNano(), 36) + "-" + strconv.FormatInt(info.Size(), 36)
}

func (s *Store) read() (Set, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Set{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading blacklist: %w", err)
	}
	if len(data) == 0 {
		return Set{}, nil
	}

	var ids []int
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return NewSet(ids...), nil
}

func (s *Store) write(set Set) error {
	data, err := json.Marshal(set.Sorted())
	if err != nil {
		return fmt.Errorf("encoding blacklist: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing blacklist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing blacklist: %w", err)
	}
	return nil
}
