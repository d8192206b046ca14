// Package manifest declares what the bootstrap procedure provisions: the
// administrative principal, the collections grouped by owning service, the
// secondary indexes and the seed documents.
//
// A manifest is authored per deployment as YAML or JSONC and resolved into a
// flat Plan for one namespace topology:
//
//	m, _ := manifest.Load("")                 // embedded default
//	plan, _ := m.Resolve(manifest.TopologySingle)
//	err := plan.Validate(manifest.SeedModeEnsure)
package manifest

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only manifest schema version this package reads.
const CurrentVersion = 1

//go:embed smartshopai.yaml
var defaultManifest []byte

// Format identifies the manifest encoding.
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatJSONC Format = "jsonc"
)

// ErrUnsupportedVersion is returned for manifests with an unknown version.
var ErrUnsupportedVersion = errors.New("unsupported manifest version")

// Manifest is the authored, service-grouped form.
type Manifest struct {
	Version               int       `yaml:"version" json:"version"`
	Database              string    `yaml:"database" json:"database"`
	NamespacePrefix       string    `yaml:"namespacePrefix" json:"namespacePrefix"`
	PlaceholderCollection string    `yaml:"placeholderCollection" json:"placeholderCollection,omitempty"`
	Principal             Principal `yaml:"principal" json:"principal"`
	Services              []Service `yaml:"services" json:"services"`
}

// Principal is the administrative identity created first. NamespaceRole,
// when set, is granted on every namespace the plan resolves to.
type Principal struct {
	Name          string `yaml:"name" json:"name"`
	Secret        string `yaml:"secret" json:"-"`
	Database      string `yaml:"database" json:"database"`
	Roles         []Role `yaml:"roles" json:"roles"`
	NamespaceRole string `yaml:"namespaceRole" json:"namespaceRole,omitempty"`
}

// Role is a (permission-role, target-namespace) pair.
type Role struct {
	Role string `yaml:"role" json:"role"`
	DB   string `yaml:"db" json:"db"`
}

// Service groups the collections one application service owns. Namespace is
// the suffix used for the service's own database in per-service topology.
type Service struct {
	Name        string      `yaml:"name" json:"name"`
	Namespace   string      `yaml:"namespace" json:"namespace"`
	Collections []string    `yaml:"collections" json:"collections"`
	Indexes     []IndexDecl `yaml:"indexes" json:"indexes,omitempty"`
	Seeds       []SeedDecl  `yaml:"seeds" json:"seeds,omitempty"`
}

// IndexDecl is an index as written under a service.
type IndexDecl struct {
	Collection string     `yaml:"collection" json:"collection"`
	Keys       []IndexKey `yaml:"keys" json:"keys"`
	Unique     bool       `yaml:"unique" json:"unique"`
	Name       string     `yaml:"name" json:"name,omitempty"`
}

// IndexKind is the direction or type of one index key.
type IndexKind string

const (
	KindAsc  IndexKind = "asc"
	KindDesc IndexKind = "desc"
	KindText IndexKind = "text"
)

// IndexKey is one (field, kind) entry of an index.
type IndexKey struct {
	Field string    `yaml:"field" json:"field"`
	Kind  IndexKind `yaml:"kind" json:"kind"`
}

// SeedDecl is a literal record inserted for smoke testing.
type SeedDecl struct {
	Collection string   `yaml:"collection" json:"collection"`
	Document   Document `yaml:"document" json:"document"`
}

// Default returns the embedded SmartShopAI manifest.
func Default() (*Manifest, error) {
	return Parse(defaultManifest, FormatYAML)
}

// Load reads a manifest from path. An empty path returns Default. Files
// ending in .json or .jsonc are read as JSONC; anything else as YAML.
func Load(path string) (*Manifest, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	m, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FormatFromPath picks the decoder for a manifest file by extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSONC
	default:
		return FormatYAML
	}
}

// Parse decodes data in the given format and checks the schema version.
// JSONC input has comments and trailing commas stripped before it is decoded
// as JSON.
func Parse(data []byte, format Format) (*Manifest, error) {
	var m Manifest
	if format == FormatJSONC {
		if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, m.Version)
	}

	return &m, nil
}

// UnmarshalJSON reads the secret, which is never written back out.
func (p *Principal) UnmarshalJSON(data []byte) error {
	type principal Principal
	var aux struct {
		principal
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = Principal(aux.principal)
	p.Secret = aux.Secret
	return nil
}
