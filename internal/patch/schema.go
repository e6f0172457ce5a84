package patch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type is the element interpretation of a dimension.
type Type string

const (
	Signed   Type = "signed"
	Unsigned Type = "unsigned"
	Floating Type = "floating"
)

// Dimension is one field of a point record.
type Dimension struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
	Size int    `json:"size"`
}

func (d Dimension) validate() error {
	switch d.Type {
	case Signed, Unsigned:
		switch d.Size {
		case 1, 2, 4, 8:
			return nil
		}
	case Floating:
		if d.Size == 4 || d.Size == 8 {
			return nil
		}
	default:
		return fmt.Errorf("dimension %q: unknown type %q", d.Name, d.Type)
	}
	return fmt.Errorf("dimension %q: unsupported size %d for %s", d.Name, d.Size, d.Type)
}

// Schema is an ordered dimension list; each dimension occupies Size bytes
// at a fixed offset assigned in list order.
type Schema []Dimension

// PotreeSchema is the layout streamed to greyhound clients by default.
var PotreeSchema = Schema{
	{Name: "X", Type: Signed, Size: 4},
	{Name: "Y", Type: Signed, Size: 4},
	{Name: "Z", Type: Signed, Size: 4},
	{Name: "Intensity", Type: Unsigned, Size: 2},
	{Name: "Classification", Type: Unsigned, Size: 1},
	{Name: "Red", Type: Unsigned, Size: 2},
	{Name: "Green", Type: Unsigned, Size: 2},
	{Name: "Blue", Type: Unsigned, Size: 2},
}

func (s Schema) Validate() error {
	if len(s) == 0 {
		return errors.New("schema: no dimensions")
	}
	seen := make(map[string]struct{}, len(s))
	for _, d := range s {
		if err := d.validate(); err != nil {
			return err
		}
		k := strings.ToLower(d.Name)
		if _, dup := seen[k]; dup {
			return fmt.Errorf("schema: duplicate dimension %q", d.Name)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// Stride is the byte size of one record.
func (s Schema) Stride() int {
	n := 0
	for _, d := range s {
		n += d.Size
	}
	return n
}

// Offsets returns the byte offset of each dimension inside a record.
func (s Schema) Offsets() []int {
	out := make([]int, len(s))
	off := 0
	for i, d := range s {
		out[i] = off
		off += d.Size
	}
	return out
}

// Index finds a dimension by case-insensitive name, -1 if absent.
func (s Schema) Index(name string) int {
	for i, d := range s {
		if strings.EqualFold(d.Name, name) {
			return i
		}
	}
	return -1
}

func (s Schema) Has(name string) bool { return s.Index(name) >= 0 }

// Equal compares names, types and sizes in order.
func (s Schema) Equal(o Schema) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !strings.EqualFold(s[i].Name, o[i].Name) || s[i].Type != o[i].Type || s[i].Size != o[i].Size {
			return false
		}
	}
	return true
}

// ParseSchema decodes a JSON dimension list as sent by greyhound clients.
func ParseSchema(raw string) (Schema, error) {
	var s Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("schema json: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// GreyhoundType maps a pgpointcloud interpretation (uint16_t, double, ...)
// onto the greyhound element type.
func GreyhoundType(interpretation string) Type {
	i := strings.ToLower(strings.TrimSpace(interpretation))
	switch {
	case strings.HasPrefix(i, "u"):
		return Unsigned
	case i == "double" || i == "float":
		return Floating
	default:
		return Signed
	}
}

// CType is the pgpointcloud interpretation string for a dimension.
func CType(d Dimension) (string, error) {
	switch {
	case d.Type == Unsigned:
		return fmt.Sprintf("uint%d_t", d.Size*8), nil
	case d.Type == Signed:
		return fmt.Sprintf("int%d_t", d.Size*8), nil
	case d.Type == Floating && d.Size == 4:
		return "float", nil
	case d.Type == Floating && d.Size == 8:
		return "double", nil
	}
	return "", fmt.Errorf("no pgpointcloud interpretation for %s/%d", d.Type, d.Size)
}
