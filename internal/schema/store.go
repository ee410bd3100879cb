package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"filing-engine/internal/model"
)

// ErrSchemaNotFound means neither the requested year nor the default year has a schema for the filing type.
var ErrSchemaNotFound = errors.New("schema not found")

type key struct {
	year int
	typ  model.FilingType
}

// Store is the in-memory schema registry. Lookups for a year without a schema
// fall back to the default year of the same filing type.
type Store struct {
	mu          sync.RWMutex
	schemas     map[key]*Schema
	defaultYear int
	logger      *zap.Logger
}

func NewStore(defaultYear int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		schemas:     make(map[key]*Schema),
		defaultYear: defaultYear,
		logger:      logger,
	}
}

func (s *Store) DefaultYear() int {
	return s.defaultYear
}

// Put validates, normalizes and registers a schema, replacing any schema with the same year and type.
func (s *Store) Put(sc *Schema) error {
	if err := s.prepare(sc); err != nil {
		return err
	}

	s.mu.Lock()
	s.schemas[key{sc.Year, sc.FilingType}] = sc
	s.mu.Unlock()
	return nil
}

// Replace swaps the registered schemas for the given set atomically.
// Invalid schemas abort the swap and leave the store unchanged.
func (s *Store) Replace(schemas []*Schema) error {
	next := make(map[key]*Schema, len(schemas))
	for _, sc := range schemas {
		if err := s.prepare(sc); err != nil {
			return err
		}
		next[key{sc.Year, sc.FilingType}] = sc
	}

	s.mu.Lock()
	s.schemas = next
	s.mu.Unlock()
	return nil
}

func (s *Store) prepare(sc *Schema) error {
	if sc == nil {
		return errors.New("nil schema")
	}
	if err := sc.Validate(); err != nil {
		return err
	}
	sc.Normalize()
	for _, finding := range sc.Lint() {
		s.logger.Warn("Schema lint", zap.Int("year", sc.Year), zap.String("type", string(sc.FilingType)), zap.String("finding", finding))
	}
	return nil
}

// Get returns the schema for year and type. A missing year falls back to the
// default year; a type without any schema is a configuration error.
func (s *Store) Get(year int, ft model.FilingType) (*Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sc, ok := s.schemas[key{year, ft}]; ok {
		return sc, nil
	}
	if sc, ok := s.schemas[key{s.defaultYear, ft}]; ok {
		s.logger.Warn("Schema year not found, using default year",
			zap.Int("year", year),
			zap.Int("default_year", s.defaultYear),
			zap.String("type", string(ft)))
		return sc, nil
	}
	return nil, fmt.Errorf("%w: year %d, type %s", ErrSchemaNotFound, year, ft)
}

// Years lists the years with a schema for the filing type, ascending.
func (s *Store) Years(ft model.FilingType) []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var years []int
	for k := range s.schemas {
		if k.typ == ft {
			years = append(years, k.year)
		}
	}
	sort.Ints(years)
	return years
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.schemas)
}
