package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"smartshopai/provisioner/internal/manifest"
)

// memServer is an in-memory stand-in for the document database. It keeps
// the create-if-absent and uniqueness semantics the bootstrap relies on.
type memServer struct {
	mu          sync.Mutex
	principals  map[string]manifest.Principal
	namespaces  map[string]bool
	collections map[manifest.Collection]*memCollection

	connectErr error
	connects   int
	closes     int
}

type memCollection struct {
	indexes []manifest.IndexSpec
	docs    []manifest.Document
}

func newMemServer() *memServer {
	return &memServer{
		principals:  make(map[string]manifest.Principal),
		namespaces:  make(map[string]bool),
		collections: make(map[manifest.Collection]*memCollection),
	}
}

func (s *memServer) Connect(_ context.Context) (Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	s.connects++
	return &memSession{s: s}, nil
}

func (s *memServer) Probe(_ context.Context) ProbeResult {
	if s.connectErr != nil {
		return ProbeResult{Name: "mongo", OK: false, Error: s.connectErr.Error()}
	}
	return ProbeResult{Name: "mongo", OK: true}
}

func (s *memServer) collection(ns, name string) *memCollection {
	return s.collections[manifest.Collection{Namespace: ns, Name: name}]
}

func (s *memServer) collectionNames(ns string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for c := range s.collections {
		if c.Namespace == ns {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *memServer) totalDocs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.collections {
		n += len(c.docs)
	}
	return n
}

// indexSpecs lists every index across all collections, sorted.
func (s *memServer) indexSpecs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.collections {
		for _, idx := range c.indexes {
			out = append(out, idx.String())
		}
	}
	sort.Strings(out)
	return out
}

type memSession struct {
	s      *memServer
	closed bool
}

func (m *memSession) CreatePrincipal(_ context.Context, p manifest.Principal) (Outcome, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	key := p.Database + "." + p.Name
	if existing, ok := m.s.principals[key]; ok {
		if !sameRoles(existing.Roles, p.Roles) {
			return 0, ErrPrincipalConflict
		}
		return OutcomeExisting, nil
	}
	m.s.principals[key] = p
	return OutcomeCreated, nil
}

func sameRoles(a, b []manifest.Role) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[manifest.Role]bool, len(a))
	for _, r := range a {
		set[r] = true
	}
	for _, r := range b {
		if !set[r] {
			return false
		}
	}
	return true
}

func (m *memSession) SelectNamespace(_ context.Context, ns string) (Outcome, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.namespaces[ns] {
		return OutcomeExisting, nil
	}
	m.s.namespaces[ns] = true
	return OutcomeCreated, nil
}

func (m *memSession) CreateCollection(_ context.Context, ns, name string) (Outcome, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := manifest.Collection{Namespace: ns, Name: name}
	if _, ok := m.s.collections[key]; ok {
		return OutcomeExisting, nil
	}
	m.s.namespaces[ns] = true
	m.s.collections[key] = &memCollection{}
	return OutcomeCreated, nil
}

func (m *memSession) CreateIndex(_ context.Context, spec manifest.IndexSpec) (Outcome, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	coll := m.s.collection(spec.Namespace, spec.Collection)
	if coll == nil {
		return 0, ErrCollectionMissing
	}
	for _, existing := range coll.indexes {
		if reflect.DeepEqual(existing.Keys, spec.Keys) {
			if existing.Unique != spec.Unique {
				return 0, errors.New("index options conflict")
			}
			return OutcomeExisting, nil
		}
	}
	if spec.Unique {
		seen := make(map[string]bool)
		for _, d := range coll.docs {
			k := uniqueKey(d, spec)
			if seen[k] {
				return 0, ErrDuplicateKey
			}
			seen[k] = true
		}
	}
	coll.indexes = append(coll.indexes, spec)
	return OutcomeCreated, nil
}

func uniqueKey(d manifest.Document, spec manifest.IndexSpec) string {
	key := ""
	for _, k := range spec.Keys {
		v, _ := d.Get(k.Field)
		key += fmt.Sprintf("%v|", v)
	}
	return key
}

func (m *memSession) InsertDocument(_ context.Context, ns, collection string, doc manifest.Document, mode manifest.SeedMode) (Outcome, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	coll := m.s.collection(ns, collection)
	if coll == nil {
		// a real server creates the collection implicitly
		coll = &memCollection{}
		m.s.collections[manifest.Collection{Namespace: ns, Name: collection}] = coll
	}

	id, hasID := doc.Get("_id")
	for _, existing := range coll.docs {
		if existingID, _ := existing.Get("_id"); hasID && existingID == id {
			if mode == manifest.SeedModeEnsure {
				return OutcomeExisting, nil
			}
			return 0, ErrDuplicateKey
		}
	}
	for _, idx := range coll.indexes {
		if !idx.Unique {
			continue
		}
		k := uniqueKey(doc, idx)
		for _, existing := range coll.docs {
			if uniqueKey(existing, idx) == k {
				return 0, ErrDuplicateKey
			}
		}
	}
	coll.docs = append(coll.docs, doc)
	return OutcomeCreated, nil
}

func (m *memSession) Close(_ context.Context) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.s.closes++
	}
	return nil
}
