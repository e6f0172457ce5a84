package patch

// LAS classification codes with a fixed display colour. Codes not listed
// render black.
var classColors = map[int][3]uint8{
	1: {176, 185, 182}, // unclassified
	2: {226, 230, 229}, // ground
	3: {192, 213, 160}, // low vegetation
	4: {171, 200, 116}, // medium vegetation
	5: {140, 156, 8},   // high vegetation
	6: {186, 79, 63},   // building
	9: {141, 179, 198}, // water
}

// ClassColor returns the display colour of a classification code.
func ClassColor(code int) [3]uint8 { return classColors[code] }

// Colors derives one colour per point, packed RGB or RGBA (alpha 255).
//
// Red/Green/Blue dimensions win when present; 16-bit channels are folded
// modulo 255 when any value exceeds the byte range. Otherwise the
// Classification dimension picks a fixed colour, otherwise black.
func Colors(p *Patch, alpha bool) []uint8 {
	comps := 3
	if alpha {
		comps = 4
	}
	out := make([]uint8, p.NumPoints*comps)
	if alpha {
		for i := 0; i < p.NumPoints; i++ {
			out[i*4+3] = 255
		}
	}
	if p.NumPoints == 0 {
		return out
	}

	ri, gi, bi := p.Schema.Index("Red"), p.Schema.Index("Green"), p.Schema.Index("Blue")
	if ri >= 0 && gi >= 0 && bi >= 0 {
		fold := false
		for i := 0; i < p.NumPoints && !fold; i++ {
			fold = p.Float(i, ri) > 255 || p.Float(i, gi) > 255 || p.Float(i, bi) > 255
		}
		for i := 0; i < p.NumPoints; i++ {
			out[i*comps] = channel(p.Float(i, ri), fold)
			out[i*comps+1] = channel(p.Float(i, gi), fold)
			out[i*comps+2] = channel(p.Float(i, bi), fold)
		}
		return out
	}

	if ci := p.Schema.Index("Classification"); ci >= 0 {
		for i := 0; i < p.NumPoints; i++ {
			c := ClassColor(int(p.Float(i, ci)))
			copy(out[i*comps:i*comps+3], c[:])
		}
	}
	return out
}

func channel(v float64, fold bool) uint8 {
	n := int64(v)
	if fold {
		n %= 255
	}
	return uint8(n)
}
