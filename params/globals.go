package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

type TrainingConfig struct {
	// Model shape
	DownsampleRate int `json:"downsample_rate"` // raw frames stacked per time step
	HiddenSize     int `json:"hidden_size"`     // must be even (sin/cos pairs)
	MelDim         int `json:"mel_dim"`         // raw feature width per frame

	// Masked acoustic model
	MaskProportion float64 `json:"mask_proportion"` // fraction of valid steps chosen for prediction
	TotalEpochs    int     `json:"total_epochs"`
	DevStep        int     `json:"dev_step"` // validation interval, kept for config compatibility

	// Optimization/training wheel parameters
	LearningRate              float64 `json:"learning_rate"`
	WarmupProportion          float64 `json:"warmup_proportion"` // fraction of total updates spent warming up
	GradientAccumulationSteps int     `json:"gradient_accumulation_steps"`
	GradientClipping          float64 `json:"gradient_clipping"` // max global grad norm
	WeightDecay               float64 `json:"weight_decay"`      // 0 disables; never applied to biases/LayerNorm
	AdamBeta1                 float64 `json:"adam_beta1"`
	AdamBeta2                 float64 `json:"adam_beta2"`
	AdamEps                   float64 `json:"adam_eps"`

	// ManualWarmup selects the plain Adam + hand-driven warmup path instead of
	// BertAdam's built-in schedule.
	ManualWarmup bool    `json:"manual_warmup"`
	LossScale    float64 `json:"loss_scale"` // 0 = dynamic; recorded only

	// Data
	DataPath     string `json:"data_path"`      // shard prefix
	BatchSize    int    `json:"batch_size"`     // utterances per bucket
	MaxTimestep  int    `json:"max_timestep"`   // drop longer utterances (0 = keep all)
	HalfBatchLen int    `json:"half_batch_len"` // halve the bucket above this many frames (0 = never)
}

// Reasonable defaults for small experiments
var Config = DefaultConfig()

func DefaultConfig() TrainingConfig {
	return TrainingConfig{
		DownsampleRate: 1,
		HiddenSize:     768,
		MelDim:         160,

		MaskProportion: 0.15,
		TotalEpochs:    10,
		DevStep:        10000,

		LearningRate:              4e-4,
		WarmupProportion:          0.07,
		GradientAccumulationSteps: 1,
		GradientClipping:          1.0,
		WeightDecay:               0.01,
		AdamBeta1:                 0.9,
		AdamBeta2:                 0.999,
		AdamEps:                   1e-6,

		ManualWarmup: false,
		LossScale:    0,

		DataPath:     "data/train",
		BatchSize:    6,
		MaxTimestep:  0,
		HalfBatchLen: 1500,
	}
}

// LoadConfig overlays the JSON file at path on top of DefaultConfig.
func LoadConfig(path string) (TrainingConfig, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that would abort the run later with a
// less obvious error.
func (c TrainingConfig) Validate() error {
	switch {
	case c.MaskProportion <= 0 || c.MaskProportion >= 1:
		return fmt.Errorf("%w: mask_proportion %v not in (0,1)", ErrInvalidConfig, c.MaskProportion)
	case c.WarmupProportion <= 0 || c.WarmupProportion >= 1:
		return fmt.Errorf("%w: warmup_proportion %v not in (0,1)", ErrInvalidConfig, c.WarmupProportion)
	case c.GradientAccumulationSteps < 1:
		return fmt.Errorf("%w: gradient_accumulation_steps must be >= 1, got %d", ErrInvalidConfig, c.GradientAccumulationSteps)
	case c.GradientClipping <= 0:
		return fmt.Errorf("%w: gradient_clipping must be > 0, got %v", ErrInvalidConfig, c.GradientClipping)
	case c.TotalEpochs < 1:
		return fmt.Errorf("%w: total_epochs must be >= 1, got %d", ErrInvalidConfig, c.TotalEpochs)
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning_rate must be > 0, got %v", ErrInvalidConfig, c.LearningRate)
	case c.DownsampleRate < 1:
		return fmt.Errorf("%w: downsample_rate must be >= 1, got %d", ErrInvalidConfig, c.DownsampleRate)
	case c.HiddenSize <= 0 || c.HiddenSize%2 != 0:
		return fmt.Errorf("%w: hidden_size must be positive and even, got %d", ErrInvalidConfig, c.HiddenSize)
	case c.MelDim < 1:
		return fmt.Errorf("%w: mel_dim must be >= 1, got %d", ErrInvalidConfig, c.MelDim)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch_size must be >= 1, got %d", ErrInvalidConfig, c.BatchSize)
	}
	return nil
}
