// Package sanitize strips server-only data from values before they are
// serialized to a client.
//
// Values are walked recursively. Maps, slices, arrays, pointers and structs
// are rebuilt as JSON-shaped values (map[string]any, []any); struct fields are
// named by their json tag and map keys are formatted as encoding/json formats
// them. Anything the walker
// does not understand is returned as is. The input is never modified.
package sanitize

import (
	"encoding"
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
)

// MaxDepth bounds recursion; deeper values are dropped
const MaxDepth = 64

// DefaultDenyFields are stripped by Default at every depth
var DefaultDenyFields = []string{
	"password",
	"password_hash",
	"passwordHash",
	"secret",
	"client_secret",
	"api_key",
	"apiKey",
	"internal_key",
	"internalKey",
	"private_key",
	"access_token",
	"refresh_token",
	"session_token",
	"mfa_secret",
}

// Rule describes how a value is cleaned.
//
// Allow projects the value to the named fields; a dotted name such as
// "owner.name" projects nested objects. Deny removes fields by name at any
// depth and is applied after projection. Field names compare case-insensitively.
type Rule struct {
	Allow       []string
	Deny        []string
	MaskSecrets bool
}

// Sanitizer applies a Rule. It holds no mutable state and is safe for
// concurrent use.
type Sanitizer struct {
	deny        map[string]struct{}
	allow       *projection
	maskSecrets bool
}

type projection struct {
	fields map[string]*projection // nil child keeps the whole subtree
}

var (
	jsonMarshaler = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshaler = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// New compiles a rule
func New(rule Rule) *Sanitizer {
	s := &Sanitizer{
		deny:        make(map[string]struct{}, len(rule.Deny)),
		maskSecrets: rule.MaskSecrets,
	}
	for _, f := range rule.Deny {
		s.deny[strings.ToLower(f)] = struct{}{}
	}
	if len(rule.Allow) > 0 {
		s.allow = &projection{fields: map[string]*projection{}}
		for _, path := range rule.Allow {
			s.allow.add(strings.Split(strings.ToLower(path), "."))
		}
	}
	return s
}

// Default strips DefaultDenyFields and masks secret-looking strings
func Default() *Sanitizer {
	return New(Rule{Deny: DefaultDenyFields, MaskSecrets: true})
}

func (p *projection) add(parts []string) {
	name := parts[0]
	if len(parts) == 1 {
		p.fields[name] = nil
		return
	}
	child, seen := p.fields[name]
	if seen && child == nil {
		// already projecting the whole subtree
		return
	}
	if child == nil {
		child = &projection{fields: map[string]*projection{}}
		p.fields[name] = child
	}
	child.add(parts[1:])
}

// Sanitize returns a cleaned copy of v
func (s *Sanitizer) Sanitize(v any) any {
	return s.walk(reflect.ValueOf(v), s.allow, 0)
}

// Project keeps only fields from v, then applies s's deny and masking rules
func (s *Sanitizer) Project(v any, fields ...string) any {
	projected := New(Rule{Allow: fields})
	projected.deny = s.deny
	projected.maskSecrets = s.maskSecrets
	return projected.Sanitize(v)
}

func (s *Sanitizer) walk(v reflect.Value, proj *projection, depth int) any {
	if !v.IsValid() || !v.CanInterface() || depth > MaxDepth {
		return nil
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return v.Interface()
		}
		if v.Kind() == reflect.Pointer && implementsMarshaler(v.Type()) {
			return v.Interface()
		}
		return s.walk(v.Elem(), proj, depth+1)

	case reflect.Map:
		if v.IsNil() || !encodableKey(v.Type().Key()) {
			return v.Interface()
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			name, ok := mapKey(iter.Key())
			if !ok {
				continue
			}
			child, keep := s.keep(name, proj)
			if !keep {
				continue
			}
			out[name] = s.walk(iter.Value(), child, depth+1)
		}
		return out

	case reflect.Slice:
		if v.IsNil() || v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Interface()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = s.walk(v.Index(i), proj, depth+1)
		}
		return out

	case reflect.Struct:
		if implementsMarshaler(v.Type()) {
			return v.Interface()
		}
		return s.walkStruct(v, proj, depth)

	case reflect.String:
		if s.maskSecrets {
			if masked, found := MaskSecrets(v.String()); found {
				return masked
			}
		}
		return v.Interface()
	}

	return v.Interface()
}

func (s *Sanitizer) walkStruct(v reflect.Value, proj *projection, depth int) map[string]any {
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		// exported fields of embedded structs are promoted even when the
		// embedded type itself is unexported
		if field.Anonymous && field.Tag.Get("json") == "" {
			if embedded, ok := derefStruct(v.Field(i)); ok {
				for k, val := range s.walkStruct(embedded, proj, depth+1) {
					if _, shadowed := out[k]; !shadowed {
						out[k] = val
					}
				}
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonName(field)
		if skip {
			continue
		}
		fv := v.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		child, keep := s.keep(name, proj)
		if !keep {
			continue
		}
		out[name] = s.walk(fv, child, depth+1)
	}
	return out
}

// keep reports whether a field survives the rule and which projection
// applies beneath it
func (s *Sanitizer) keep(name string, proj *projection) (*projection, bool) {
	lower := strings.ToLower(name)
	if _, denied := s.deny[lower]; denied {
		return nil, false
	}
	if proj == nil {
		return nil, true
	}
	child, ok := proj.fields[lower]
	return child, ok
}

// derefStruct follows pointers to an embedded struct
func derefStruct(v reflect.Value) (reflect.Value, bool) {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.Kind() == reflect.Struct && !implementsMarshaler(v.Type())
}

func jsonName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, strings.Contains(opts, "omitempty"), false
}

// encodableKey reports whether encoding/json can write a map with keys of type t
func encodableKey(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return t.Implements(textMarshaler)
}

// mapKey formats k the way encoding/json names object keys
func mapKey(k reflect.Value) (string, bool) {
	if k.Kind() == reflect.String {
		return k.String(), true
	}
	if k.Type().Implements(textMarshaler) {
		if k.Kind() == reflect.Pointer && k.IsNil() {
			return "", true
		}
		text, err := k.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", false
		}
		return string(text), true
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), true
	}
	return "", false
}

func implementsMarshaler(t reflect.Type) bool {
	return t.Implements(jsonMarshaler) || t.Implements(textMarshaler)
}
