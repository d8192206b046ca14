package manifest

import (
	"errors"
	"fmt"
	"strings"
)

// maxNamespaceLen is MongoDB's database name limit in bytes.
const maxNamespaceLen = 63

// Validate reports every structural problem in the plan. The bootstrap
// procedure itself does not call it: callers validate before running so
// that ordering mistakes are caught before anything is created.
func (p *Plan) Validate(mode SeedMode) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if p.Principal.Name == "" {
		fail("principal: name is required")
	}
	if p.Principal.Secret == "" {
		fail("principal %q: secret is required", p.Principal.Name)
	}
	if len(p.Principal.Roles) == 0 {
		fail("principal %q: at least one role is required", p.Principal.Name)
	}
	for _, r := range p.Principal.Roles {
		if r.Role == "" || r.DB == "" {
			fail("principal %q: role entries need both role and db", p.Principal.Name)
		}
	}

	if len(p.Namespaces) == 0 {
		fail("no namespaces resolved")
	}
	for _, ns := range p.Namespaces {
		if err := validateNamespace(ns); err != nil {
			errs = append(errs, err)
		}
	}

	declared := make(map[Collection]bool, len(p.Collections))
	for _, c := range p.Collections {
		if err := validateCollectionName(c.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
		}
		declared[c] = true
	}

	type keyShape struct {
		coll Collection
		keys string
	}
	uniqueness := make(map[keyShape]bool)
	textIndex := make(map[Collection]bool)

	for _, idx := range p.Indexes {
		coll := Collection{Namespace: idx.Namespace, Name: idx.Collection}
		if !declared[coll] {
			fail("index %s: collection %s is not declared", idx, coll)
		}
		if len(idx.Keys) == 0 {
			fail("index %s: no keys", idx)
			continue
		}

		hasText := false
		for _, k := range idx.Keys {
			if k.Field == "" {
				fail("index %s: empty field name", idx)
			}
			switch k.Kind {
			case KindAsc, KindDesc:
			case KindText:
				hasText = true
			default:
				fail("index %s: unknown kind %q for field %q", idx, k.Kind, k.Field)
			}
		}
		if hasText {
			if textIndex[coll] {
				fail("index %s: collection %s already has a text index", idx, coll)
			}
			textIndex[coll] = true
		}

		shape := keyShape{coll: coll, keys: keysString(idx.Keys)}
		if prev, ok := uniqueness[shape]; ok && prev != idx.Unique {
			fail("index %s: declared twice with different uniqueness", idx)
		}
		uniqueness[shape] = idx.Unique
	}

	for _, seed := range p.Seeds {
		coll := Collection{Namespace: seed.Namespace, Name: seed.Collection}
		if !declared[coll] {
			fail("seed %s: collection %s is not declared", seed, coll)
		}
		if len(seed.Document) == 0 {
			fail("seed %s: empty document", seed)
		}
		if _, ok := seed.Document.Get("_id"); !ok && mode == SeedModeEnsure {
			fail("seed %s: %s mode needs an _id to key on", seed, mode)
		}
	}

	return errors.Join(errs...)
}

func keysString(keys []IndexKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.Field + ":" + string(k.Kind)
	}
	return strings.Join(parts, ",")
}

func validateNamespace(ns string) error {
	if ns == "" {
		return errors.New("namespace: empty name")
	}
	if len(ns) > maxNamespaceLen {
		return fmt.Errorf("namespace %q: longer than %d bytes", ns, maxNamespaceLen)
	}
	if strings.ContainsAny(ns, "/\\. \"$*<>:|?\x00") {
		return fmt.Errorf("namespace %q: contains a character MongoDB does not allow", ns)
	}
	return nil
}

func validateCollectionName(name string) error {
	switch {
	case name == "":
		return errors.New("empty collection name")
	case strings.HasPrefix(name, "system."):
		return errors.New("system. prefix is reserved")
	case strings.ContainsAny(name, "$\x00"):
		return errors.New("collection name contains $ or NUL")
	}
	return nil
}
