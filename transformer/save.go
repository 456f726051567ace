package transformer

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/mockingjay/optimizations"
)

type paramData struct {
	Name string
	R, C int
	Data []float64
}

type modelData struct {
	InputDim, HiddenSize int
	Params               []paramData
}

// SaveModel persists an AcousticModel (weights only) to disk using gob.
// filename should be a path to create/overwrite.
func SaveModel(m *AcousticModel, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	md := modelData{InputDim: m.InputDim, HiddenSize: m.HiddenSize}
	for _, p := range m.Parameters() {
		r, c := p.Value.Dims()
		data := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			data = append(data, p.Value.RawRowView(i)...)
		}
		md.Params = append(md.Params, paramData{Name: p.Name, R: r, C: c, Data: data})
	}

	// temp file + rename, never a truncated model
	tmp := filename + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(md); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}

func LoadModel(filename string) (*AcousticModel, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var md modelData
	if err := gob.NewDecoder(f).Decode(&md); err != nil {
		return nil, err
	}

	m := &AcousticModel{
		InputDim:   md.InputDim,
		HiddenSize: md.HiddenSize,
		Norm:       &LayerNorm{H: md.HiddenSize, Eps: layerNormEps},
	}
	byName := map[string]**optimizations.Param{
		"input.weight":           &m.InWeight,
		"input.bias":             &m.InBias,
		"input.LayerNorm.weight": &m.Norm.Gamma,
		"input.LayerNorm.bias":   &m.Norm.Beta,
		"output.weight":          &m.OutWeight,
		"output.bias":            &m.OutBias,
	}
	for _, pd := range md.Params {
		slot, ok := byName[pd.Name]
		if !ok {
			return nil, fmt.Errorf("load %s: unknown parameter %q", filename, pd.Name)
		}
		*slot = optimizations.NewParam(pd.Name, mat.NewDense(pd.R, pd.C, pd.Data))
	}
	for name, slot := range byName {
		if *slot == nil {
			return nil, fmt.Errorf("load %s: missing parameter %q", filename, name)
		}
	}
	return m, nil
}
