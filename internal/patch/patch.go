// Package patch decodes uncompressed pgpointcloud patches into typed point
// fields.
//
// Wire layout of a patch:
//
//	byte    endianness (1 = little endian, 0 = big endian)
//	uint32  pcid
//	uint32  compression (0 = none)
//	uint32  npoints
//	...     npoints fixed-stride records, layout given by the schema
package patch

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

const HeaderSize = 13

const (
	CompressionNone        uint32 = 0
	CompressionDimensional uint32 = 1
	CompressionLaz         uint32 = 2
)

var (
	ErrTruncated  = errors.New("patch: truncated")
	ErrCompressed = errors.New("patch: compressed patches are not supported")
)

// Patch is a decoded point buffer. Data holds NumPoints records of
// Schema.Stride() bytes each, in Order.
type Patch struct {
	PCID      uint32
	NumPoints int
	Schema    Schema
	Order     binary.ByteOrder
	Data      []byte

	offsets []int
}

// Empty returns a patch with no points.
func Empty(s Schema) *Patch {
	return &Patch{Schema: s, Order: binary.LittleEndian, offsets: s.Offsets()}
}

// Decode parses a binary patch. A patch with zero points decodes to an
// empty Patch without error.
func Decode(blob []byte, s Schema) (*Patch, error) {
	if len(blob) == 0 {
		return Empty(s), nil
	}
	if len(blob) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, got %d", ErrTruncated, HeaderSize, len(blob))
	}
	var order binary.ByteOrder = binary.LittleEndian
	switch blob[0] {
	case 1:
	case 0:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("patch: invalid endian flag %d", blob[0])
	}
	p := &Patch{
		PCID:    order.Uint32(blob[1:5]),
		Schema:  s,
		Order:   order,
		offsets: s.Offsets(),
	}
	compression := order.Uint32(blob[5:9])
	n := order.Uint32(blob[9:13])
	if n == 0 {
		return p, nil
	}
	if compression != CompressionNone {
		return nil, fmt.Errorf("%w (compression=%d)", ErrCompressed, compression)
	}
	stride := s.Stride()
	if stride == 0 {
		return nil, errors.New("patch: schema has zero stride")
	}
	need := uint64(n) * uint64(stride)
	body := blob[HeaderSize:]
	if uint64(len(body)) < need {
		return nil, fmt.Errorf("%w: %d points need %d bytes, got %d", ErrTruncated, n, need, len(body))
	}
	p.NumPoints = int(n)
	p.Data = body[:need]
	return p, nil
}

// DecodeHex parses the hex text form returned by the database.
func DecodeHex(text string, s Schema) (*Patch, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Empty(s), nil
	}
	b, err := hex.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("patch hex: %w", err)
	}
	return Decode(b, s)
}

// Raw returns the record bytes as stored.
func (p *Patch) Raw() []byte { return p.Data }

// Float reads dimension dim of record i as float64.
func (p *Patch) Float(i, dim int) float64 {
	d := p.Schema[dim]
	off := i*p.Schema.Stride() + p.offsets[dim]
	b := p.Data[off : off+d.Size]
	return readValue(p.Order, d, b)
}

// Column returns every value of the named dimension; nil if absent.
func (p *Patch) Column(name string) []float64 {
	idx := p.Schema.Index(name)
	if idx < 0 {
		return nil
	}
	out := make([]float64, p.NumPoints)
	for i := range out {
		out[i] = p.Float(i, idx)
	}
	return out
}

// Record is one point with a value per schema dimension.
type Record []float64

func (p *Patch) Records() []Record {
	out := make([]Record, p.NumPoints)
	for i := range out {
		r := make(Record, len(p.Schema))
		for d := range p.Schema {
			r[d] = p.Float(i, d)
		}
		out[i] = r
	}
	return out
}

// Shuffle permutes the records in place.
func (p *Patch) Shuffle(rng *rand.Rand) {
	if p.NumPoints < 2 {
		return
	}
	stride := p.Schema.Stride()
	tmp := make([]byte, stride)
	swap := func(i, j int) {
		a := p.Data[i*stride : (i+1)*stride]
		b := p.Data[j*stride : (j+1)*stride]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
	if rng == nil {
		rand.Shuffle(p.NumPoints, swap)
		return
	}
	rng.Shuffle(p.NumPoints, swap)
}

// Encode builds an uncompressed little-endian patch from records.
func Encode(pcid uint32, s Schema, recs []Record) ([]byte, error) {
	stride := s.Stride()
	offs := s.Offsets()
	out := make([]byte, HeaderSize+len(recs)*stride)
	out[0] = 1
	binary.LittleEndian.PutUint32(out[1:5], pcid)
	binary.LittleEndian.PutUint32(out[5:9], CompressionNone)
	binary.LittleEndian.PutUint32(out[9:13], uint32(len(recs)))
	for i, r := range recs {
		if len(r) != len(s) {
			return nil, fmt.Errorf("record %d: %d values for %d dimensions", i, len(r), len(s))
		}
		base := HeaderSize + i*stride
		for d, dim := range s {
			writeValue(out[base+offs[d]:base+offs[d]+dim.Size], dim, r[d])
		}
	}
	return out, nil
}

func readValue(order binary.ByteOrder, d Dimension, b []byte) float64 {
	switch d.Type {
	case Floating:
		if d.Size == 4 {
			return float64(math.Float32frombits(order.Uint32(b)))
		}
		return math.Float64frombits(order.Uint64(b))
	case Unsigned:
		switch d.Size {
		case 1:
			return float64(b[0])
		case 2:
			return float64(order.Uint16(b))
		case 4:
			return float64(order.Uint32(b))
		default:
			return float64(order.Uint64(b))
		}
	default:
		switch d.Size {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(order.Uint16(b)))
		case 4:
			return float64(int32(order.Uint32(b)))
		default:
			return float64(int64(order.Uint64(b)))
		}
	}
}

func writeValue(b []byte, d Dimension, v float64) {
	le := binary.LittleEndian
	switch d.Type {
	case Floating:
		if d.Size == 4 {
			le.PutUint32(b, math.Float32bits(float32(v)))
			return
		}
		le.PutUint64(b, math.Float64bits(v))
	case Unsigned:
		switch d.Size {
		case 1:
			b[0] = uint8(v)
		case 2:
			le.PutUint16(b, uint16(v))
		case 4:
			le.PutUint32(b, uint32(v))
		default:
			le.PutUint64(b, uint64(v))
		}
	default:
		switch d.Size {
		case 1:
			b[0] = uint8(int8(v))
		case 2:
			le.PutUint16(b, uint16(int16(v)))
		case 4:
			le.PutUint32(b, uint32(int32(v)))
		default:
			le.PutUint64(b, uint64(int64(v)))
		}
	}
}
