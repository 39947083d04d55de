// Package tilecache is an in-memory cache.Interface with no eviction or TTL.
package tilecache

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mohammed-shakir/speedtiles/internal/cache"
	"github.com/mohammed-shakir/speedtiles/internal/core/model"
	"github.com/mohammed-shakir/speedtiles/internal/core/observability"
)

// Policy decides what Merge does with an address that is already cached.
type Policy int

const (
	// PolicyOverwrite replaces the cached subtiles of an address wholesale.
	PolicyOverwrite Policy = iota
	// PolicyAppend appends incoming subtiles after the cached ones.
	PolicyAppend
)

func (p Policy) String() string {
	switch p {
	case PolicyAppend:
		return "append"
	default:
		return "overwrite"
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite":
		return PolicyOverwrite, nil
	case "append":
		return PolicyAppend, nil
	default:
		return PolicyOverwrite, fmt.Errorf("unknown cache merge policy %q", s)
	}
}

type Store struct {
	mu     sync.RWMutex
	policy Policy
	tiles  model.TileSet
}

var _ cache.Interface = (*Store)(nil)

func New(policy Policy) *Store {
	return &Store{policy: policy, tiles: make(model.TileSet)}
}

func (s *Store) Policy() Policy { return s.policy }

// Get returns a copy of the subtile slice so callers cannot race with Merge.
func (s *Store) Get(a model.TileAddress) ([]model.SubTile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs, ok := s.tiles.Get(a)
	if !ok {
		return nil, false
	}
	return append([]model.SubTile(nil), subs...), true
}

func (s *Store) Has(a model.TileAddress) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tiles.Get(a)
	return ok
}

func (s *Store) Merge(set model.TileSet) {
	if len(set) == 0 {
		return
	}
	s.mu.Lock()
	for lvl, byIndex := range set {
		for idx, subs := range byIndex {
			a := model.TileAddress{Level: lvl, Index: idx}
			incoming := append([]model.SubTile(nil), subs...)
			if s.policy == PolicyAppend {
				if prev, ok := s.tiles.Get(a); ok {
					incoming = append(append([]model.SubTile(nil), prev...), incoming...)
				}
			}
			s.tiles.Put(a, incoming)
		}
	}
	n := s.tiles.Len()
	s.mu.Unlock()

	observability.SetTileCacheEntries(n)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tiles.Len()
}

// Snapshot copies the whole cache.
func (s *Store) Snapshot() model.TileSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(model.TileSet, len(s.tiles))
	for lvl, byIndex := range s.tiles {
		for idx, subs := range byIndex {
			out.Put(model.TileAddress{Level: lvl, Index: idx}, append([]model.SubTile(nil), subs...))
		}
	}
	return out
}
