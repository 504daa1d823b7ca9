package records

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Segment is one key/value pair of a Segmentation
type Segment struct {
	Key   string
	Value string
}

// Segmentation is an insertion-ordered string map. Keys are unique; adding
// an existing key replaces its value in place.
type Segmentation struct {
	items []Segment
}

// NewSegmentation creates a segmentation from alternating key/value pairs
func NewSegmentation(pairs ...string) *Segmentation {
	s := &Segmentation{}
	for i := 0; i+1 < len(pairs); i += 2 {
		s.Add(pairs[i], pairs[i+1])
	}
	return s
}

// SegmentationFromMap builds a segmentation from a map. Map iteration order
// is random, so callers that care about order should use Add.
func SegmentationFromMap(m map[string]string) *Segmentation {
	s := &Segmentation{}
	for _, k := range sortedKeys(m) {
		s.Add(k, m[k])
	}
	return s
}

// Add sets key to value. Empty keys are ignored.
func (s *Segmentation) Add(key, value string) *Segmentation {
	if key == "" {
		return s
	}
	for i := range s.items {
		if s.items[i].Key == key {
			s.items[i].Value = value
			return s
		}
	}
	s.items = append(s.items, Segment{Key: key, Value: value})
	return s
}

// Get returns the value stored for key
func (s *Segmentation) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	for _, it := range s.items {
		if it.Key == key {
			return it.Value, true
		}
	}
	return "", false
}

// Remove deletes key and reports whether it was present
func (s *Segmentation) Remove(key string) bool {
	for i, it := range s.items {
		if it.Key == key {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of entries
func (s *Segmentation) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Items returns a copy of the entries in insertion order
func (s *Segmentation) Items() []Segment {
	if s == nil {
		return nil
	}
	out := make([]Segment, len(s.items))
	copy(out, s.items)
	return out
}

// Clone returns an independent copy
func (s *Segmentation) Clone() *Segmentation {
	if s == nil {
		return nil
	}
	return &Segmentation{items: s.Items()}
}

// MarshalJSON encodes the segmentation as a JSON object in insertion order
func (s *Segmentation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, it := range s.items {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(it.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(it.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping the order keys appear in.
// Non-string values are kept in their JSON text form.
func (s *Segmentation) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("segmentation: expected object, got %v", tok)
	}

	s.items = s.items[:0]
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("segmentation: expected string key, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			value = string(raw)
		}
		s.Add(key, value)
	}

	_, err = dec.Token()
	return err
}
