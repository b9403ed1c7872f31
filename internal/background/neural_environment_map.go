package background

import (
	"fmt"
	"strings"

	"neuralenv/internal/config"
	"neuralenv/internal/encoding"
	"neuralenv/internal/model"
	"neuralenv/internal/nn"
	"neuralenv/internal/tensor"
)

const NeuralEnvironmentMapTag = "neural-environment-map-background"

type NeuralEnvironmentMapConfig struct {
	NOutputDims       int
	ColorActivation   string
	DirEncodingConfig config.Values
	MLPNetworkConfig  config.Values
	RandomAug         bool
	RandomAugProb     float64
}

func DefaultNeuralEnvironmentMapConfig() NeuralEnvironmentMapConfig {
	return NeuralEnvironmentMapConfig{
		NOutputDims:     3,
		ColorActivation: "sigmoid",
		DirEncodingConfig: config.Values{
			"otype":  "SphericalHarmonics",
			"degree": 3,
		},
		MLPNetworkConfig: config.Values{
			"otype":           "VanillaMLP",
			"activation":      "ReLU",
			"n_neurons":       16,
			"n_hidden_layers": 2,
		},
		RandomAug:     false,
		RandomAugProb: 0.5,
	}
}

// ParseNeuralEnvironmentMapConfig overlays values onto the defaults. Encoding
// and network sub-trees replace the defaults wholesale when present, so a
// different otype does not inherit unrelated keys.
func ParseNeuralEnvironmentMapConfig(values config.Values) (NeuralEnvironmentMapConfig, error) {
	cfg := DefaultNeuralEnvironmentMapConfig()
	var err error
	if cfg.NOutputDims, err = values.Int("n_output_dims", cfg.NOutputDims); err != nil {
		return NeuralEnvironmentMapConfig{}, err
	}
	if cfg.ColorActivation, err = values.String("color_activation", cfg.ColorActivation); err != nil {
		return NeuralEnvironmentMapConfig{}, err
	}
	if cfg.DirEncodingConfig, err = values.Sub("dir_encoding_config", cfg.DirEncodingConfig); err != nil {
		return NeuralEnvironmentMapConfig{}, err
	}
	if cfg.MLPNetworkConfig, err = values.Sub("mlp_network_config", cfg.MLPNetworkConfig); err != nil {
		return NeuralEnvironmentMapConfig{}, err
	}
	if cfg.RandomAug, err = values.Bool("random_aug", cfg.RandomAug); err != nil {
		return NeuralEnvironmentMapConfig{}, err
	}
	if cfg.RandomAugProb, err = values.Float("random_aug_prob", cfg.RandomAugProb); err != nil {
		return NeuralEnvironmentMapConfig{}, err
	}
	if err := cfg.validate(); err != nil {
		return NeuralEnvironmentMapConfig{}, err
	}
	return cfg, nil
}

func (c NeuralEnvironmentMapConfig) validate() error {
	if c.NOutputDims < 1 {
		return fmt.Errorf("%w: n_output_dims must be positive, got %d", config.ErrInvalid, c.NOutputDims)
	}
	return validateAugmentation(c.RandomAugProb)
}

// Values renders the config back into the tree form it is parsed from.
func (c NeuralEnvironmentMapConfig) Values() config.Values {
	return config.Values{
		"n_output_dims":       c.NOutputDims,
		"color_activation":    c.ColorActivation,
		"dir_encoding_config": c.DirEncodingConfig.Clone(),
		"mlp_network_config":  c.MLPNetworkConfig.Clone(),
		"random_aug":          c.RandomAug,
		"random_aug_prob":     c.RandomAugProb,
	}
}

// NeuralEnvironmentMap regresses a colour from the view direction through a
// directional encoding and a small MLP. In training it can swap the whole
// background for one random flat colour so the foreground cannot hide
// information in it.
type NeuralEnvironmentMap struct {
	cfg             NeuralEnvironmentMapConfig
	encoder         encoding.Encoder
	network         nn.Regressor
	colorActivation nn.ActivationFunc
	src             nn.Source
}

func NewNeuralEnvironmentMap(cfg NeuralEnvironmentMapConfig, opts Options) (*NeuralEnvironmentMap, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	activation, err := nn.GetActivation(cfg.ColorActivation)
	if err != nil {
		return nil, fmt.Errorf("color activation: %w", err)
	}
	encoder, err := encoding.New(3, cfg.DirEncodingConfig)
	if err != nil {
		return nil, fmt.Errorf("dir encoding: %w", err)
	}
	network, err := nn.NewRegressor(encoder.NOutputDims(), cfg.NOutputDims, cfg.MLPNetworkConfig, opts.Rand)
	if err != nil {
		return nil, fmt.Errorf("mlp network: %w", err)
	}

	bg := assembleNeuralEnvironmentMap(cfg, encoder, network, activation, opts.Rand)
	opts.Logger.Debug().
		Str("background", NeuralEnvironmentMapTag).
		Int("encoding_dims", encoder.NOutputDims()).
		Int("output_dims", cfg.NOutputDims).
		Int("parameters", countParameters(network.Parameters())).
		Bool("random_aug", cfg.RandomAug).
		Msg("background configured")
	return bg, nil
}

func assembleNeuralEnvironmentMap(cfg NeuralEnvironmentMapConfig, encoder encoding.Encoder, network nn.Regressor, activation nn.ActivationFunc, src nn.Source) *NeuralEnvironmentMap {
	return &NeuralEnvironmentMap{
		cfg:             cfg,
		encoder:         encoder,
		network:         network,
		colorActivation: activation,
		src:             src,
	}
}

func (b *NeuralEnvironmentMap) Config() NeuralEnvironmentMapConfig { return b.cfg }

func (b *NeuralEnvironmentMap) NOutputDims() int { return b.cfg.NOutputDims }

// Forward expects unit-length directions and does not check or clamp them.
func (b *NeuralEnvironmentMap) Forward(mode Mode, dirs tensor.Tensor) (tensor.Tensor, error) {
	if err := checkDirections(dirs); err != nil {
		return tensor.Tensor{}, err
	}
	batch := dirs.Batch()
	if augment(mode, b.cfg.RandomAug, b.cfg.RandomAugProb, b.src) {
		return tensor.Broadcast(randomColor(b.src, b.cfg.NOutputDims), batch), nil
	}
	if dirs.Len() == 0 {
		return tensor.Zeros(append(batch, b.cfg.NOutputDims)...), nil
	}

	// (-1, 1) => (0, 1)
	remapped := dirs.Map(func(d float64) float64 { return (d + 1) / 2 })
	x, err := remapped.Matrix()
	if err != nil {
		return tensor.Tensor{}, err
	}
	embedding, err := b.encoder.Encode(x)
	if err != nil {
		return tensor.Tensor{}, err
	}
	raw, err := b.network.Regress(embedding)
	if err != nil {
		return tensor.Tensor{}, err
	}
	if _, cols := raw.Dims(); cols != b.cfg.NOutputDims {
		return tensor.Tensor{}, fmt.Errorf("%w: network produced %d outputs, configured %d", tensor.ErrShape, cols, b.cfg.NOutputDims)
	}
	color, err := tensor.FromMatrix(raw, batch)
	if err != nil {
		return tensor.Tensor{}, err
	}
	return color.Map(b.colorActivation), nil
}

func (b *NeuralEnvironmentMap) Parameters() []model.Parameter {
	params := b.network.Parameters()
	for i := range params {
		params[i].Name = "network." + params[i].Name
	}
	return params
}

func (b *NeuralEnvironmentMap) LoadParameters(params []model.Parameter) error {
	stripped := make([]model.Parameter, len(params))
	for i, p := range params {
		name, ok := strings.CutPrefix(p.Name, "network.")
		if !ok {
			return fmt.Errorf("%w: unexpected parameter %s", nn.ErrParameterMismatch, p.Name)
		}
		p.Name = name
		stripped[i] = p
	}
	return b.network.LoadParameters(stripped)
}

func countParameters(params []model.Parameter) int {
	n := 0
	for _, p := range params {
		n += len(p.Data)
	}
	return n
}

var _ Background = (*NeuralEnvironmentMap)(nil)
