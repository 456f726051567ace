package mam

import (
	"gonum.org/v1/gonum/mat"
)

// Pipeline turns a loader bucket into a model-ready Batch.
type Pipeline struct {
	DownsampleRate int
	HiddenSize     int
	Masker         *Masker
	Device         Device
	Positions      *PositionTable // optional cache
}

// Process runs squeeze, downsampling, masking, position encoding and
// assembly on one (1 x B x T x D) bucket. Batch.Target holds the unmasked
// stacked frames.
func (p *Pipeline) Process(bucket [][]*mat.Dense) (*Batch, error) {
	spec, err := Squeeze(bucket)
	if err != nil {
		return nil, err
	}
	stacked, err := DownSample(spec, p.DownsampleRate)
	if err != nil {
		return nil, err
	}
	lens := ValidLengths(stacked)

	utts := make([]*MaskedUtterance, len(stacked))
	pos := make([]*mat.Dense, len(stacked))
	for i, frames := range stacked {
		u, err := p.Masker.Mask(frames, lens[i])
		if err != nil {
			return nil, err
		}
		utts[i] = u
		seqLen, _ := frames.Dims()
		if p.Positions != nil {
			pos[i] = p.Positions.Get(seqLen, p.HiddenSize, lens[i])
		} else {
			pos[i] = PositionEncoding(seqLen, p.HiddenSize, lens[i])
		}
	}
	return Assemble(utts, pos, stacked, p.Device)
}
