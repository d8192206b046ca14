package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Placeholder kinds recognised inside seed documents. A placeholder is a
// single-key mapping such as {$now: true}.
const (
	PlaceholderNow    = "$now"
	PlaceholderDate   = "$date"
	PlaceholderBcrypt = "$bcrypt"
)

// Field is one key/value pair of a Document.
type Field struct {
	Key   string
	Value any
}

// Document is an ordered set of fields. Order is preserved from the
// manifest source through to the inserted record.
type Document []Field

// Placeholder is a value resolved when the bootstrap runs rather than when
// the manifest is parsed.
type Placeholder struct {
	Kind string
	Arg  string
}

// Get returns the value stored under key.
func (d Document) Get(key string) (any, bool) {
	for _, f := range d {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Without returns a copy of d with key removed.
func (d Document) Without(key string) Document {
	out := make(Document, 0, len(d))
	for _, f := range d {
		if f.Key != key {
			out = append(out, f)
		}
	}
	return out
}

// UnmarshalYAML decodes a mapping node keeping key order.
func (d *Document) UnmarshalYAML(node *yaml.Node) error {
	v, err := decodeNode(node)
	if err != nil {
		return err
	}
	doc, ok := v.(Document)
	if !ok {
		return fmt.Errorf("line %d: document must be a mapping", node.Line)
	}
	*d = doc
	return nil
}

func decodeNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return decodeNode(n.Alias)
	case yaml.MappingNode:
		if len(n.Content) == 2 && isPlaceholderKey(n.Content[0].Value) {
			arg := n.Content[1]
			if arg.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: %s takes a scalar argument", arg.Line, n.Content[0].Value)
			}
			var v any = arg.Value
			if n.Content[0].Value == PlaceholderNow {
				if err := arg.Decode(&v); err != nil {
					return nil, fmt.Errorf("line %d: %w", arg.Line, err)
				}
			}
			p, err := newPlaceholder(n.Content[0].Value, v)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", arg.Line, err)
			}
			return p, nil
		}
		doc := make(Document, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if strings.HasPrefix(key, "$") {
				return nil, fmt.Errorf("line %d: unknown placeholder or operator key %q", n.Content[i].Line, key)
			}
			val, err := decodeNode(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			doc = append(doc, Field{Key: key, Value: val})
		}
		return doc, nil
	case yaml.SequenceNode:
		arr := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			val, err := decodeNode(c)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		return arr, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("line %d: unsupported yaml node", n.Line)
	}
}

// UnmarshalJSON decodes an object keeping key order. Placeholders and the
// reserved "$" prefix follow the same rules as the YAML form.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSON(dec)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after document")
	}
	doc, ok := v.(Document)
	if !ok {
		return errors.New("document must be an object")
	}
	*d = doc
	return nil
}

func decodeJSON(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeJSONObject(dec)
		case '[':
			arr := []any{}
			for dec.More() {
				v, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected %q", t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), nil
		}
		return t.Float64()
	default:
		// string, bool or nil
		return t, nil
	}
}

func decodeJSONObject(dec *json.Decoder) (any, error) {
	doc := Document{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		val, err := decodeJSON(dec)
		if err != nil {
			return nil, err
		}
		doc = append(doc, Field{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	if len(doc) == 1 && isPlaceholderKey(doc[0].Key) {
		return newPlaceholder(doc[0].Key, doc[0].Value)
	}
	for _, f := range doc {
		if strings.HasPrefix(f.Key, "$") {
			return nil, fmt.Errorf("unknown placeholder or operator key %q", f.Key)
		}
	}
	return doc, nil
}

// newPlaceholder checks the argument of a placeholder. $now only accepts
// true; $date and $bcrypt take a string.
func newPlaceholder(kind string, arg any) (Placeholder, error) {
	switch kind {
	case PlaceholderNow:
		if b, ok := arg.(bool); !ok || !b {
			return Placeholder{}, fmt.Errorf("%s: argument must be true, got %v", kind, arg)
		}
		return Placeholder{Kind: kind, Arg: "true"}, nil
	case PlaceholderDate, PlaceholderBcrypt:
		s, ok := arg.(string)
		if !ok {
			return Placeholder{}, fmt.Errorf("%s: argument must be a string, got %v", kind, arg)
		}
		return Placeholder{Kind: kind, Arg: s}, nil
	default:
		return Placeholder{}, fmt.Errorf("unknown placeholder %q", kind)
	}
}

func isPlaceholderKey(k string) bool {
	switch k {
	case PlaceholderNow, PlaceholderDate, PlaceholderBcrypt:
		return true
	}
	return false
}

// ExpandOptions controls placeholder resolution.
type ExpandOptions struct {
	Now        time.Time
	BcryptCost int
}

// Expand returns a copy of d with every placeholder replaced by its value.
// {$now: true} becomes opts.Now, {$date: RFC3339} a fixed timestamp and
// {$bcrypt: plaintext} a bcrypt hash of the plaintext.
func (d Document) Expand(opts ExpandOptions) (Document, error) {
	v, err := expandValue(d, opts)
	if err != nil {
		return nil, err
	}
	return v.(Document), nil
}

func expandValue(v any, opts ExpandOptions) (any, error) {
	switch val := v.(type) {
	case Document:
		out := make(Document, len(val))
		for i, f := range val {
			ev, err := expandValue(f.Value, opts)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Key, err)
			}
			out[i] = Field{Key: f.Key, Value: ev}
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			ev, err := expandValue(e, opts)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	case Placeholder:
		return val.resolve(opts)
	default:
		return v, nil
	}
}

func (p Placeholder) resolve(opts ExpandOptions) (any, error) {
	switch p.Kind {
	case PlaceholderNow:
		if p.Arg != "true" {
			return nil, fmt.Errorf("$now: argument must be true, got %q", p.Arg)
		}
		return opts.Now.UTC(), nil
	case PlaceholderDate:
		t, err := time.Parse(time.RFC3339, p.Arg)
		if err != nil {
			return nil, fmt.Errorf("$date: %w", err)
		}
		return t.UTC(), nil
	case PlaceholderBcrypt:
		cost := opts.BcryptCost
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(p.Arg), cost)
		if err != nil {
			return nil, fmt.Errorf("$bcrypt: %w", err)
		}
		return string(hash), nil
	default:
		return nil, fmt.Errorf("unknown placeholder %q", p.Kind)
	}
}

// MarshalJSON writes the fields as a JSON object in declaration order.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON renders the placeholder in its manifest form.
func (p Placeholder) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PlaceholderNow:
		return json.Marshal(map[string]bool{p.Kind: true})
	case PlaceholderBcrypt:
		// never echo the plaintext
		return json.Marshal(map[string]string{p.Kind: "***"})
	}
	return json.Marshal(map[string]string{p.Kind: p.Arg})
}
