package background

import (
	"fmt"

	"neuralenv/internal/config"
	"neuralenv/internal/model"
	"neuralenv/internal/nn"
	"neuralenv/internal/tensor"
)

const SolidColorTag = "solid-color-background"

const solidColorParameter = "env_color"

type SolidColorConfig struct {
	NOutputDims   int
	Color         []float64
	Learned       bool
	RandomAug     bool
	RandomAugProb float64
}

func ParseSolidColorConfig(values config.Values) (SolidColorConfig, error) {
	cfg := SolidColorConfig{NOutputDims: 3, RandomAugProb: 0.5}
	var err error
	if cfg.NOutputDims, err = values.Int("n_output_dims", cfg.NOutputDims); err != nil {
		return SolidColorConfig{}, err
	}
	if cfg.NOutputDims < 1 {
		return SolidColorConfig{}, fmt.Errorf("%w: n_output_dims must be positive, got %d", config.ErrInvalid, cfg.NOutputDims)
	}
	ones := make([]float64, cfg.NOutputDims)
	for i := range ones {
		ones[i] = 1
	}
	if cfg.Color, err = values.Floats("color", ones); err != nil {
		return SolidColorConfig{}, err
	}
	if cfg.Learned, err = values.Bool("learned", false); err != nil {
		return SolidColorConfig{}, err
	}
	if cfg.RandomAug, err = values.Bool("random_aug", false); err != nil {
		return SolidColorConfig{}, err
	}
	if cfg.RandomAugProb, err = values.Float("random_aug_prob", cfg.RandomAugProb); err != nil {
		return SolidColorConfig{}, err
	}
	if err := cfg.validate(); err != nil {
		return SolidColorConfig{}, err
	}
	return cfg, nil
}

func (c SolidColorConfig) validate() error {
	if len(c.Color) != c.NOutputDims {
		return fmt.Errorf("%w: color has %d values, n_output_dims is %d", config.ErrInvalid, len(c.Color), c.NOutputDims)
	}
	return validateAugmentation(c.RandomAugProb)
}

// SolidColor paints every direction the same colour, optionally learned.
type SolidColor struct {
	cfg   SolidColorConfig
	color []float64
	src   nn.Source
}

func NewSolidColor(cfg SolidColorConfig, opts Options) (*SolidColor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	color := make([]float64, len(cfg.Color))
	copy(color, cfg.Color)

	opts.Logger.Debug().
		Str("background", SolidColorTag).
		Floats64("color", color).
		Bool("learned", cfg.Learned).
		Msg("background configured")
	return &SolidColor{cfg: cfg, color: color, src: opts.Rand}, nil
}

func (b *SolidColor) NOutputDims() int { return b.cfg.NOutputDims }

func (b *SolidColor) Forward(mode Mode, dirs tensor.Tensor) (tensor.Tensor, error) {
	if err := checkDirections(dirs); err != nil {
		return tensor.Tensor{}, err
	}
	if augment(mode, b.cfg.RandomAug, b.cfg.RandomAugProb, b.src) {
		return tensor.Broadcast(randomColor(b.src, b.cfg.NOutputDims), dirs.Batch()), nil
	}
	return tensor.Broadcast(b.color, dirs.Batch()), nil
}

// Parameters is empty unless the colour is learned.
func (b *SolidColor) Parameters() []model.Parameter {
	if !b.cfg.Learned {
		return nil
	}
	data := make([]float64, len(b.color))
	copy(data, b.color)
	return []model.Parameter{{Name: solidColorParameter, Shape: []int{len(data)}, Data: data}}
}

func (b *SolidColor) LoadParameters(params []model.Parameter) error {
	if !b.cfg.Learned {
		if len(params) != 0 {
			return fmt.Errorf("%w: fixed colour takes no parameters, got %d", nn.ErrParameterMismatch, len(params))
		}
		return nil
	}
	if len(params) != 1 || params[0].Name != solidColorParameter || len(params[0].Data) != len(b.color) {
		return fmt.Errorf("%w: expected one %s of %d values", nn.ErrParameterMismatch, solidColorParameter, len(b.color))
	}
	copy(b.color, params[0].Data)
	return nil
}

var _ Background = (*SolidColor)(nil)
