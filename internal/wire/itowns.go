package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const cinHeaderFloats = 6

// Cin is an iTowns point tile. Positions are node-local float32 XYZ,
// Colors are RGBA.
type Cin struct {
	Size      [3]float32
	Positions []float32
	Colors    []uint8
}

// Bytes writes the 6 float32 header (0,0,0,dx,dy,dz) then positions then
// colours.
func (c Cin) Bytes() ([]byte, error) {
	n := len(c.Positions) / 3
	if len(c.Positions) != n*3 || len(c.Colors) != n*4 {
		return nil, fmt.Errorf("cin: %d position values and %d colour values for %d points",
			len(c.Positions), len(c.Colors), n)
	}
	out := make([]byte, 0, cinHeaderFloats*4+n*16)
	hdr := [cinHeaderFloats]float32{0, 0, 0, c.Size[0], c.Size[1], c.Size[2]}
	for _, v := range hdr {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	for _, v := range c.Positions {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return append(out, c.Colors...), nil
}

// ParseCin is the inverse of Bytes.
func ParseCin(b []byte) (Cin, error) {
	if len(b) < cinHeaderFloats*4 {
		return Cin{}, errors.New("cin: short header")
	}
	body := len(b) - cinHeaderFloats*4
	if body%16 != 0 {
		return Cin{}, fmt.Errorf("cin: body of %d bytes is not a whole number of points", body)
	}
	n := body / 16
	f := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b[off:])) }
	c := Cin{
		Size:      [3]float32{f(12), f(16), f(20)},
		Positions: make([]float32, n*3),
	}
	for i := range c.Positions {
		c.Positions[i] = f(cinHeaderFloats*4 + i*4)
	}
	c.Colors = append([]uint8(nil), b[cinHeaderFloats*4+n*12:]...)
	return c, nil
}

// HrcRecord describes one node of an iTowns hierarchy: bit c of Mask is set
// when child c exists.
type HrcRecord struct {
	Mask  uint8
	Count uint32
}

// Hrc packs records as 1 mask byte + uint32 LE count each, in the order
// given.
func Hrc(recs []HrcRecord) []byte {
	out := make([]byte, 0, len(recs)*5)
	for _, r := range recs {
		out = append(out, r.Mask)
		out = binary.LittleEndian.AppendUint32(out, r.Count)
	}
	return out
}

// ParseHrc is the inverse of Hrc.
func ParseHrc(b []byte) ([]HrcRecord, error) {
	if len(b)%5 != 0 {
		return nil, fmt.Errorf("hrc: %d bytes is not a whole number of records", len(b))
	}
	out := make([]HrcRecord, len(b)/5)
	for i := range out {
		out[i] = HrcRecord{Mask: b[i*5], Count: binary.LittleEndian.Uint32(b[i*5+1:])}
	}
	return out, nil
}

// ReverseBits8 converts between a child-presence string read left to right
// (child 0 first, the most significant bit) and the mask written on the
// wire, where child 0 is the least significant bit.
func ReverseBits8(b uint8) uint8 {
	b = b>>4 | b<<4
	b = (b&0xCC)>>2 | (b&0x33)<<2
	b = (b&0xAA)>>1 | (b&0x55)<<1
	return b
}

// ChildMask builds the wire mask from per-child presence flags.
func ChildMask(present [8]bool) uint8 {
	var m uint8
	for c, ok := range present {
		if ok {
			m |= 1 << c
		}
	}
	return m
}
