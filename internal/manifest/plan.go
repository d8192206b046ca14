package manifest

import (
	"fmt"
	"strings"
)

// Topology selects how services map onto namespaces.
type Topology string

const (
	TopologySingle     Topology = "single-namespace"
	TopologyPerService Topology = "per-service-namespace"
)

// ParseTopology converts a config value to a Topology.
func ParseTopology(s string) (Topology, error) {
	switch t := Topology(s); t {
	case TopologySingle, TopologyPerService:
		return t, nil
	default:
		return "", fmt.Errorf("unknown topology %q", s)
	}
}

// SeedMode selects how seed documents are written.
type SeedMode string

const (
	// SeedModeEnsure inserts a seed only when no document with its _id exists.
	SeedModeEnsure SeedMode = "ensure"
	// SeedModeInsert always inserts, so a re-run fails on the unique keys.
	SeedModeInsert SeedMode = "insert"
)

// ParseSeedMode converts a config value to a SeedMode.
func ParseSeedMode(s string) (SeedMode, error) {
	switch m := SeedMode(s); m {
	case SeedModeEnsure, SeedModeInsert:
		return m, nil
	default:
		return "", fmt.Errorf("unknown seed mode %q", s)
	}
}

// Plan is the flat, namespace-resolved form interpreted by the bootstrap
// procedure. Execution order is Principal, Namespaces, Collections,
// Indexes, Seeds.
type Plan struct {
	Version     int          `json:"version"`
	Topology    Topology     `json:"topology"`
	Principal   Principal    `json:"principal"`
	Namespaces  []string     `json:"namespaces"`
	Collections []Collection `json:"collections"`
	Indexes     []IndexSpec  `json:"indexes"`
	Seeds       []Seed       `json:"seeds"`
}

// Collection is a (namespace, name) pair.
type Collection struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (c Collection) String() string { return c.Namespace + "." + c.Name }

// IndexSpec is an index bound to its namespace.
type IndexSpec struct {
	Namespace  string     `json:"namespace"`
	Collection string     `json:"collection"`
	Keys       []IndexKey `json:"keys"`
	Unique     bool       `json:"unique"`
	Name       string     `json:"name,omitempty"`
}

func (s IndexSpec) String() string {
	parts := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		parts[i] = k.Field + ":" + string(k.Kind)
	}
	str := fmt.Sprintf("%s.%s{%s}", s.Namespace, s.Collection, strings.Join(parts, ","))
	if s.Unique {
		str += " unique"
	}
	return str
}

// Seed is a seed document bound to its namespace.
type Seed struct {
	Namespace  string   `json:"namespace"`
	Collection string   `json:"collection"`
	Document   Document `json:"document"`
}

func (s Seed) String() string {
	if id, ok := s.Document.Get("_id"); ok {
		return fmt.Sprintf("%s.%s[%v]", s.Namespace, s.Collection, id)
	}
	return s.Namespace + "." + s.Collection
}

// Resolve flattens the manifest for the given topology. Collections are
// de-duplicated per namespace keeping the first declaration. In
// per-service topology every namespace also receives the placeholder
// collection, if one is configured.
func (m *Manifest) Resolve(topology Topology) (*Plan, error) {
	if _, err := ParseTopology(string(topology)); err != nil {
		return nil, err
	}

	plan := &Plan{
		Version:  m.Version,
		Topology: topology,
	}

	seenNS := make(map[string]bool)
	seenColl := make(map[Collection]bool)

	addNamespace := func(ns string) {
		if seenNS[ns] {
			return
		}
		seenNS[ns] = true
		plan.Namespaces = append(plan.Namespaces, ns)
	}
	addCollection := func(c Collection) {
		if seenColl[c] {
			return
		}
		seenColl[c] = true
		plan.Collections = append(plan.Collections, c)
	}

	if topology == TopologySingle {
		addNamespace(m.Database)
	}

	for _, svc := range m.Services {
		ns := m.namespaceFor(svc, topology)
		addNamespace(ns)

		if topology == TopologyPerService && m.PlaceholderCollection != "" {
			addCollection(Collection{Namespace: ns, Name: m.PlaceholderCollection})
		}
		for _, name := range svc.Collections {
			addCollection(Collection{Namespace: ns, Name: name})
		}
		for _, idx := range svc.Indexes {
			plan.Indexes = append(plan.Indexes, IndexSpec{
				Namespace:  ns,
				Collection: idx.Collection,
				Keys:       idx.Keys,
				Unique:     idx.Unique,
				Name:       idx.Name,
			})
		}
		for _, seed := range svc.Seeds {
			plan.Seeds = append(plan.Seeds, Seed{
				Namespace:  ns,
				Collection: seed.Collection,
				Document:   seed.Document,
			})
		}
	}

	plan.Principal = m.resolvePrincipal(plan.Namespaces)
	return plan, nil
}

func (m *Manifest) namespaceFor(svc Service, topology Topology) string {
	if topology == TopologySingle {
		return m.Database
	}
	suffix := svc.Namespace
	if suffix == "" {
		suffix = strings.ReplaceAll(svc.Name, "-", "_")
	}
	if m.NamespacePrefix == "" {
		return suffix
	}
	return m.NamespacePrefix + "_" + suffix
}

func (m *Manifest) resolvePrincipal(namespaces []string) Principal {
	p := m.Principal
	if p.Database == "" {
		p.Database = "admin"
	}

	roles := make([]Role, 0, len(p.Roles)+len(namespaces))
	seen := make(map[Role]bool)
	add := func(r Role) {
		if seen[r] {
			return
		}
		seen[r] = true
		roles = append(roles, r)
	}
	for _, r := range p.Roles {
		add(r)
	}
	if p.NamespaceRole != "" {
		for _, ns := range namespaces {
			add(Role{Role: p.NamespaceRole, DB: ns})
		}
	}
	p.Roles = roles
	return p
}

// WithSecret returns a copy of the plan whose principal uses secret.
// An empty secret leaves the manifest value in place.
func (p *Plan) WithSecret(secret string) *Plan {
	if secret == "" {
		return p
	}
	cp := *p
	cp.Principal.Secret = secret
	return &cp
}
