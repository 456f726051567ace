package mam

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// NoPadding disables zeroing of trailing rows in PositionEncoding.
const NoPadding = -1

// PositionEncoding returns the (seqLen x hidden) sinusoid table:
// sin(pos/10000^(2*(dim/2)/hidden)) on even dims, cos on odd dims.
// Rows at or beyond validLen are zero. hidden is expected to be even.
func PositionEncoding(seqLen, hidden, validLen int) *mat.Dense {
	table := mat.NewDense(seqLen, hidden, nil)
	for pos := 0; pos < seqLen; pos++ {
		if validLen >= 0 && pos >= validLen {
			break
		}
		row := table.RawRowView(pos)
		for dim := range row {
			angle := float64(pos) / math.Pow(10000, float64(2*(dim/2))/float64(hidden))
			if dim%2 == 0 {
				row[dim] = math.Sin(angle)
			} else {
				row[dim] = math.Cos(angle)
			}
		}
	}
	return table
}

type posKey struct{ seqLen, hidden, validLen int }

// PositionTable memoizes PositionEncoding. Callers must not modify the
// returned matrices.
type PositionTable struct {
	cache map[posKey]*mat.Dense
}

func NewPositionTable() *PositionTable {
	return &PositionTable{cache: make(map[posKey]*mat.Dense)}
}

func (p *PositionTable) Get(seqLen, hidden, validLen int) *mat.Dense {
	k := posKey{seqLen, hidden, validLen}
	if t, ok := p.cache[k]; ok {
		return t
	}
	t := PositionEncoding(seqLen, hidden, validLen)
	p.cache[k] = t
	return t
}
