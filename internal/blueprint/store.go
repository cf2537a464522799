package blueprint

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	ErrNotFound = errors.New("blueprint not found")
	ErrExists   = errors.New("blueprint already exists")
)

// Store is the authoritative blueprint registry. It runs on an in-memory map
// persisted to a JSON file, or on Postgres when a DSN is configured; the
// Postgres mode keeps an LRU read cache in front of the table.
type Store struct {
	path string
	db   *sql.DB

	loadOnce sync.Once
	mu       sync.RWMutex
	byID     map[string]Blueprint

	schemaOnce sync.Once
	schemaErr  error

	cache *lru.Cache[string, Blueprint]
}

func New(path string) *Store {
	return &Store{
		path: path,
		byID: make(map[string]Blueprint),
	}
}

func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := lru.New[string, Blueprint](1024)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, cache: cache}, nil
}

func NewFromEnv(path string) *Store {
	dsn := strings.TrimSpace(os.Getenv("BLUEPRINT_STORE_PG_DSN"))
	if dsn == "" {
		return New(path)
	}
	s, err := NewPostgres(dsn)
	if err != nil {
		return New(path)
	}
	return s
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns a copy of the blueprint, or ErrNotFound.
func (s *Store) Get(id string) (*Blueprint, error) {
	if s == nil {
		return nil, ErrNotFound
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	if s.db != nil {
		if b, ok := s.cache.Get(id); ok {
			return b.Clone(), nil
		}
		b, ok := s.getDB(id)
		if !ok {
			return nil, ErrNotFound
		}
		s.cache.Add(id, b)
		return b.Clone(), nil
	}
	s.ensureLoadedFile()
	s.mu.RLock()
	b, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

// Lookup is Get without the error, for script-root resolution callbacks.
func (s *Store) Lookup(id string) *Blueprint {
	b, err := s.Get(id)
	if err != nil {
		return nil
	}
	return b
}

// Add registers a new blueprint. The record is validated, normalized (which
// blanks script fields under scriptRef) and persisted.
func (s *Store) Add(b *Blueprint) error {
	if s == nil || b == nil {
		return fmt.Errorf("blueprint is nil")
	}
	n := normalize(*b)
	if err := Validate(&n); err != nil {
		return err
	}
	if _, err := s.Get(n.ID); err == nil {
		return ErrExists
	}
	return s.put(n)
}

// Modify applies update to a copy of the stored record, bumps the version,
// re-normalizes and persists. The update callback cannot change the id.
func (s *Store) Modify(id string, update func(*Blueprint)) (*Blueprint, error) {
	if s == nil {
		return nil, ErrNotFound
	}
	cur, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	next := *cur.Clone()
	update(&next)
	next.ID = cur.ID
	next.Version = cur.Version + 1
	n := normalize(next)
	if err := Validate(&n); err != nil {
		return nil, err
	}
	if err := s.put(n); err != nil {
		return nil, err
	}
	return n.Clone(), nil
}

// Remove deletes the blueprint. Removing an unknown id is a no-op.
func (s *Store) Remove(id string) error {
	if s == nil {
		return nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	if s.db != nil {
		if err := s.removeDB(id); err != nil {
			return err
		}
		s.cache.Remove(id)
		return nil
	}
	s.ensureLoadedFile()
	s.mu.Lock()
	prev, had := s.byID[id]
	delete(s.byID, id)
	s.mu.Unlock()
	if err := s.saveFile(); err != nil {
		if had {
			s.mu.Lock()
			s.byID[id] = prev
			s.mu.Unlock()
		}
		return err
	}
	return nil
}

// List returns copies of every stored blueprint.
func (s *Store) List() []*Blueprint {
	if s == nil {
		return nil
	}
	if s.db != nil {
		return s.listDB()
	}
	s.ensureLoadedFile()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Blueprint, 0, len(s.byID))
	for _, b := range s.byID {
		out = append(out, b.Clone())
	}
	return out
}

// put persists the record and only then makes it visible to readers; a
// failed write must never leave a phantom in the cache or the map.
func (s *Store) put(n Blueprint) error {
	if s.db != nil {
		if err := s.putDB(n); err != nil {
			return err
		}
		s.cache.Add(n.ID, n)
		return nil
	}
	s.ensureLoadedFile()
	s.mu.Lock()
	prev, had := s.byID[n.ID]
	s.byID[n.ID] = n
	s.mu.Unlock()
	if err := s.saveFile(); err != nil {
		s.mu.Lock()
		if had {
			s.byID[n.ID] = prev
		} else {
			delete(s.byID, n.ID)
		}
		s.mu.Unlock()
		return err
	}
	return nil
}
