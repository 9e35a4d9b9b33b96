package dataset

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// ClassIndex maps contiguous integer labels to class names. It is built once
// from the training folder and handed unchanged to prediction; accessors
// return copies so the index stays read-only.
type ClassIndex struct {
	names []string
	index map[string]int
}

// NewClassIndex assigns label i to names[i].
func NewClassIndex(names []string) ClassIndex {
	c := ClassIndex{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
	}
	for i, name := range c.names {
		c.index[name] = i
	}
	return c
}

// Len returns the number of classes.
func (c ClassIndex) Len() int {
	return len(c.names)
}

// Label translates a predicted index to its class name.
func (c ClassIndex) Label(i int) (string, error) {
	if i < 0 || i >= len(c.names) {
		return "", fmt.Errorf("class index %d out of range [0, %d)", i, len(c.names))
	}
	return c.names[i], nil
}

// Index returns the label assigned to name.
func (c ClassIndex) Index(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// Names returns the class names in label order.
func (c ClassIndex) Names() []string {
	return append([]string(nil), c.names...)
}

// Map returns name -> label, the shape Keras calls class_indices.
func (c ClassIndex) Map() map[string]int {
	m := make(map[string]int, len(c.index))
	for k, v := range c.index {
		m[k] = v
	}
	return m
}

// Equal reports whether both indexes assign the same labels.
func (c ClassIndex) Equal(other ClassIndex) bool {
	if len(c.names) != len(other.names) {
		return false
	}
	for i := range c.names {
		if c.names[i] != other.names[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the name -> label map.
func (c ClassIndex) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map())
}

// UnmarshalJSON decodes a name -> label map. Labels must be exactly 0..n-1.
func (c *ClassIndex) UnmarshalJSON(data []byte) error {
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "decode class index")
	}
	names := make([]string, len(m))
	seen := make([]bool, len(m))
	for name, i := range m {
		if i < 0 || i >= len(m) || seen[i] {
			return errors.Errorf("class index: label %d for %q is not contiguous", i, name)
		}
		seen[i] = true
		names[i] = name
	}
	*c = NewClassIndex(names)
	return nil
}
