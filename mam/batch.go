package mam

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ByteMatrix is a dense row-major uint8 matrix used for label masks.
type ByteMatrix struct {
	Rows, Cols int
	Data       []uint8
}

func NewByteMatrix(r, c int) *ByteMatrix {
	return &ByteMatrix{Rows: r, Cols: c, Data: make([]uint8, r*c)}
}

func (b *ByteMatrix) Dims() (int, int) { return b.Rows, b.Cols }

func (b *ByteMatrix) At(i, j int) uint8 { return b.Data[i*b.Cols+j] }

func (b *ByteMatrix) Set(i, j int, v uint8) { b.Data[i*b.Cols+j] = v }

// SetRow fills row i with v.
func (b *ByteMatrix) SetRow(i int, v uint8) {
	row := b.Data[i*b.Cols : (i+1)*b.Cols]
	for j := range row {
		row[j] = v
	}
}

// Count returns the number of non-zero entries.
func (b *ByteMatrix) Count() int {
	n := 0
	for _, v := range b.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

// Device is where assembled batches live.
type Device int

const (
	CPU Device = iota
	GPU
)

func (d Device) String() string {
	if d == GPU {
		return "gpu"
	}
	return "cpu"
}

// Batch is what the model consumes; every tensor is padded to SeqLen steps.
type Batch struct {
	MaskedInput []*mat.Dense  // B x (T x D)
	PosEnc      []*mat.Dense  // B x (T x H)
	MaskLabel   []*ByteMatrix // B x (T x D)
	AttnMask    *mat.Dense    // (B x T), 1 on valid steps
	Target      []*mat.Dense  // B x (T x D), the unmasked stacked frames
	ValidLens   []int
	SeqLen      int
	Device      Device
}

func (b *Batch) Size() int { return len(b.MaskedInput) }

// Assemble pads the per-utterance pieces to a common length and places the
// batch on dev.
func Assemble(utts []*MaskedUtterance, pos, target []*mat.Dense, dev Device) (*Batch, error) {
	if len(utts) == 0 || len(pos) != len(utts) || len(target) != len(utts) {
		return nil, fmt.Errorf("%w: assemble got %d utterances, %d position tables, %d targets",
			ErrShape, len(utts), len(pos), len(target))
	}
	if dev != CPU {
		return nil, fmt.Errorf("device %s is not available", dev)
	}

	seqLen := 0
	for _, u := range utts {
		r, _ := u.Input.Dims()
		seqLen = max(seqLen, r)
	}

	b := &Batch{
		MaskedInput: make([]*mat.Dense, len(utts)),
		PosEnc:      make([]*mat.Dense, len(utts)),
		MaskLabel:   make([]*ByteMatrix, len(utts)),
		AttnMask:    mat.NewDense(len(utts), seqLen, nil),
		Target:      make([]*mat.Dense, len(utts)),
		ValidLens:   make([]int, len(utts)),
		SeqLen:      seqLen,
		Device:      dev,
	}
	for i, u := range utts {
		_, D := u.Input.Dims()
		if tr, tc := target[i].Dims(); tc != D || tr > seqLen {
			return nil, fmt.Errorf("%w: target %d is %dx%d, masked input is %dx%d", ErrShape, i, tr, tc, seqLen, D)
		}
		if pr, _ := pos[i].Dims(); pr > seqLen {
			return nil, fmt.Errorf("%w: position table %d has %d rows, batch has %d", ErrShape, i, pr, seqLen)
		}
		b.MaskedInput[i] = padRows(u.Input, seqLen)
		b.PosEnc[i] = padRows(pos[i], seqLen)
		b.Target[i] = padRows(target[i], seqLen)

		label := NewByteMatrix(seqLen, D)
		copy(label.Data, u.Label.Data)
		b.MaskLabel[i] = label

		for t := 0; t < u.ValidLen; t++ {
			b.AttnMask.Set(i, t, 1)
		}
		b.ValidLens[i] = u.ValidLen
	}
	return b, nil
}

// padRows returns a fresh (rows x c) copy of m, zero-filled below m.
func padRows(m *mat.Dense, rows int) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(rows, c, nil)
	out.Slice(0, r, 0, c).(*mat.Dense).Copy(m)
	return out
}
