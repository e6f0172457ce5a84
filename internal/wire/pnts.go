package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

const (
	pntsMagic      = "pnts"
	pntsVersion    = 1
	pntsHeaderSize = 28
)

// Pnts is a 3D Tiles point cloud tile: float32 XYZ positions relative to
// RTC and one RGB triplet per point.
type Pnts struct {
	Positions []float32
	Colors    []uint8
	RTC       [3]float64
}

type pntsFeatureTable struct {
	PointsLength int        `json:"POINTS_LENGTH"`
	Position     byteOffset `json:"POSITION"`
	RGB          byteOffset `json:"RGB"`
	RTCCenter    [3]float64 `json:"RTC_CENTER"`
}

type byteOffset struct {
	ByteOffset int `json:"byteOffset"`
}

func (p Pnts) NumPoints() int { return len(p.Positions) / 3 }

// Bytes lays out header, feature table JSON and feature table body. The JSON
// is space padded so the body starts on an 8-byte boundary and the body is
// zero padded to a multiple of 8.
func (p Pnts) Bytes() ([]byte, error) {
	n := p.NumPoints()
	if len(p.Positions) != n*3 || len(p.Colors) != n*3 {
		return nil, fmt.Errorf("pnts: %d position values and %d colour values for %d points",
			len(p.Positions), len(p.Colors), n)
	}
	ft := pntsFeatureTable{
		PointsLength: n,
		Position:     byteOffset{0},
		RGB:          byteOffset{n * 12},
		RTCCenter:    p.RTC,
	}
	js, err := json.Marshal(ft)
	if err != nil {
		return nil, err
	}
	js = pad(js, pntsHeaderSize, ' ')

	body := make([]byte, 0, n*15+8)
	for _, v := range p.Positions {
		body = binary.LittleEndian.AppendUint32(body, math.Float32bits(v))
	}
	body = append(body, p.Colors...)
	body = pad(body, 0, 0)

	total := pntsHeaderSize + len(js) + len(body)
	out := make([]byte, pntsHeaderSize, total)
	copy(out, pntsMagic)
	le := binary.LittleEndian
	le.PutUint32(out[4:], pntsVersion)
	le.PutUint32(out[8:], uint32(total))
	le.PutUint32(out[12:], uint32(len(js)))
	le.PutUint32(out[16:], uint32(len(body)))
	// batch table json / binary lengths stay zero
	out = append(out, js...)
	out = append(out, body...)
	return out, nil
}

// pad extends b with fill until start+len(b) is a multiple of 8.
func pad(b []byte, start int, fill byte) []byte {
	for (start+len(b))%8 != 0 {
		b = append(b, fill)
	}
	return b
}
