package graph

import (
	"fmt"
	"sort"
	"strings"
)

// KeyDelimiter separates the components of a composite key. Node IDs and
// classifier components must not contain it.
const KeyDelimiter = ":"

// Classifier partitions nodes into typed, categorized lookup groups.
type Classifier struct {
	Type     string
	Category string
}

// String returns the classifier as "type:category".
func (c Classifier) String() string {
	return c.Type + KeyDelimiter + c.Category
}

// ParseClassifier parses a "type:category" string.
func ParseClassifier(s string) (Classifier, error) {
	parts := strings.Split(s, KeyDelimiter)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Classifier{}, fmt.Errorf("parse classifier %q: want type%scategory", s, KeyDelimiter)
	}
	return Classifier{Type: parts[0], Category: parts[1]}, nil
}

// Properties is the identity of a node.
type Properties struct {
	ID         string
	Classifier Classifier
}

// NewProperties is a convenience constructor for Properties.
func NewProperties(id, typ, category string) Properties {
	return Properties{ID: id, Classifier: Classifier{Type: typ, Category: category}}
}

// Validate returns ErrInvalidNode if p does not identify a node.
func (p Properties) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidNode)
	}
	return nil
}

// String returns the composite key of p without validating it.
func (p Properties) String() string {
	return p.ID + KeyDelimiter + p.Classifier.Type + KeyDelimiter + p.Classifier.Category
}

// CompositeKey encodes p as "id:type:category". Components containing the
// delimiter are rejected rather than escaped.
func CompositeKey(p Properties) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	for _, part := range []string{p.ID, p.Classifier.Type, p.Classifier.Category} {
		if strings.Contains(part, KeyDelimiter) {
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalidKey, part, KeyDelimiter)
		}
	}
	return p.String(), nil
}

// ParseCompositeKey decodes a key produced by CompositeKey.
func ParseCompositeKey(key string) (Properties, error) {
	parts := strings.Split(key, KeyDelimiter)
	if len(parts) != 3 || parts[0] == "" {
		return Properties{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return NewProperties(parts[0], parts[1], parts[2]), nil
}

// Set is an unordered collection of node identities. The zero value is an
// empty set that can be read but must be initialized with NewSet before
// adding members.
type Set map[Properties]struct{}

// NewSet returns a set holding the provided members.
func NewSet(members ...Properties) Set {
	s := make(Set, len(members))
	for _, p := range members {
		s[p] = struct{}{}
	}
	return s
}

// Contains reports whether p is a member of s.
func (s Set) Contains(p Properties) bool {
	_, ok := s[p]
	return ok
}

// Clone returns a copy of s that is safe to mutate.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for p := range s {
		c[p] = struct{}{}
	}
	return c
}

// Equal reports whether s and other hold the same members.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for p := range s {
		if !other.Contains(p) {
			return false
		}
	}
	return true
}

// Slice returns the members of s ordered by composite key.
func (s Set) Slice() []Properties {
	out := make([]Properties, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	SortProperties(out)
	return out
}

// SortProperties orders a slice of identities by composite key.
func SortProperties(list []Properties) {
	sort.Slice(list, func(l, r int) bool { return list[l].String() < list[r].String() })
}
