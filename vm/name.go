package vm

import (
	"errors"
	"strings"
)

// ---------------------------------------------------------------------------
// Name: qualified symbol names
// ---------------------------------------------------------------------------

// Name is an ordered sequence of string components identifying a package,
// class, function, or global. Two names are equal iff their component
// sequences are equal. Symbols carry two forms: the source name, visible to
// importing packages, and the definition name, which is canonical and may
// include synthetic components the compiler generated.
type Name struct {
	components []string
}

// ErrEmptyName is returned when parsing a name with no components.
var ErrEmptyName = errors.New("empty name")

// nameSeparator joins components in the textual form of a name.
const nameSeparator = "."

// NewName creates a name from its components. The slice is not copied.
func NewName(components ...string) (*Name, error) {
	if len(components) == 0 {
		return nil, ErrEmptyName
	}
	for _, c := range components {
		if c == "" {
			return nil, errors.New("name component is empty")
		}
	}
	return &Name{components: components}, nil
}

// ParseName parses a dot-separated textual name.
func ParseName(s string) (*Name, error) {
	if s == "" {
		return nil, ErrEmptyName
	}
	return NewName(strings.Split(s, nameSeparator)...)
}

// mustName is ParseName for names known valid at compile time.
func mustName(s string) *Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Components returns the name's component sequence.
func (n *Name) Components() []string {
	return n.components
}

// Equals reports component-wise equality.
func (n *Name) Equals(other *Name) bool {
	if n == other {
		return true
	}
	if n == nil || other == nil || len(n.components) != len(other.components) {
		return false
	}
	for i, c := range n.components {
		if c != other.components[i] {
			return false
		}
	}
	return true
}

// String returns the dot-separated textual form.
func (n *Name) String() string {
	return strings.Join(n.components, nameSeparator)
}

// key returns the map key form of the name.
func (n *Name) key() string {
	return n.String()
}
