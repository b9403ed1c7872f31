package nn

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"neuralenv/internal/config"
	"neuralenv/internal/model"
	"neuralenv/internal/tensor"
)

var ErrParameterMismatch = errors.New("parameter mismatch")

// Source is the random stream used for weight initialisation and background
// augmentation. *math/rand.Rand satisfies it; it is not safe for concurrent
// use unless the implementation is.
type Source interface {
	Float64() float64
}

// Regressor maps N x in embeddings to N x out raw outputs. Its weights are
// owned by whoever drives the optimisation and are exchanged through
// Parameters and LoadParameters.
type Regressor interface {
	NInputDims() int
	NOutputDims() int
	Regress(x *mat.Dense) (*mat.Dense, error)
	Parameters() []model.Parameter
	LoadParameters(params []model.Parameter) error
}

type weightInit func(fanIn, fanOut int, src Source) float64

// MLP is a bias-free feed-forward network: in->h, (hidden-1) x h->h, h->out,
// with the hidden activation after every layer but the last.
type MLP struct {
	otype   string
	nInput  int
	nOutput int
	layers  []*mat.Dense
	hidden  ActivationFunc
	output  ActivationFunc
}

type mlpConfig struct {
	neurons          int
	hiddenLayers     int
	activation       string
	outputActivation string
}

func parseMLPConfig(cfg config.Values) (mlpConfig, error) {
	var out mlpConfig
	var err error
	if out.neurons, err = cfg.Int("n_neurons", 64); err != nil {
		return mlpConfig{}, err
	}
	if out.hiddenLayers, err = cfg.Int("n_hidden_layers", 1); err != nil {
		return mlpConfig{}, err
	}
	if out.activation, err = cfg.String("activation", "ReLU"); err != nil {
		return mlpConfig{}, err
	}
	if out.outputActivation, err = cfg.String("output_activation", "none"); err != nil {
		return mlpConfig{}, err
	}
	if out.neurons < 1 {
		return mlpConfig{}, fmt.Errorf("%w: n_neurons must be positive, got %d", config.ErrInvalid, out.neurons)
	}
	if out.hiddenLayers < 1 {
		return mlpConfig{}, fmt.Errorf("%w: n_hidden_layers must be positive, got %d", config.ErrInvalid, out.hiddenLayers)
	}
	return out, nil
}

func newMLP(otype string, nInput, nOutput int, cfg mlpConfig, src Source, init weightInit) (*MLP, error) {
	if nInput < 1 || nOutput < 1 {
		return nil, fmt.Errorf("%w: %s needs positive dims, got in=%d out=%d", config.ErrInvalid, otype, nInput, nOutput)
	}
	if src == nil {
		return nil, fmt.Errorf("%s: random source is required", otype)
	}
	hidden, err := ResolveNetworkActivation(cfg.activation)
	if err != nil {
		return nil, err
	}
	output, err := ResolveNetworkActivation(cfg.outputActivation)
	if err != nil {
		return nil, err
	}

	dims := make([]int, 0, cfg.hiddenLayers+2)
	dims = append(dims, nInput)
	for i := 0; i < cfg.hiddenLayers; i++ {
		dims = append(dims, cfg.neurons)
	}
	dims = append(dims, nOutput)

	layers := make([]*mat.Dense, len(dims)-1)
	for i := range layers {
		fanIn, fanOut := dims[i], dims[i+1]
		data := make([]float64, fanIn*fanOut)
		for j := range data {
			data[j] = init(fanIn, fanOut, src)
		}
		layers[i] = mat.NewDense(fanIn, fanOut, data)
	}

	return &MLP{
		otype:   otype,
		nInput:  nInput,
		nOutput: nOutput,
		layers:  layers,
		hidden:  hidden,
		output:  output,
	}, nil
}

// NewVanillaMLP initialises weights uniformly in +-1/sqrt(fan_in).
func NewVanillaMLP(nInput, nOutput int, cfg config.Values, src Source) (Regressor, error) {
	parsed, err := parseMLPConfig(cfg)
	if err != nil {
		return nil, err
	}
	return newMLP("VanillaMLP", nInput, nOutput, parsed, src, func(fanIn, _ int, src Source) float64 {
		bound := 1 / math.Sqrt(float64(fanIn))
		return (src.Float64()*2 - 1) * bound
	})
}

// NewFusedMLP builds the FullyFusedMLP/CutlassMLP variants with Xavier-uniform
// weights. The fully fused kernel only exists for a few layer widths, so that
// variant rejects anything else.
func NewFusedMLP(otype string) NetworkFactory {
	return func(nInput, nOutput int, cfg config.Values, src Source) (Regressor, error) {
		parsed, err := parseMLPConfig(cfg)
		if err != nil {
			return nil, err
		}
		if otype == "FullyFusedMLP" {
			switch parsed.neurons {
			case 16, 32, 64, 128:
			default:
				return nil, fmt.Errorf("%w: FullyFusedMLP n_neurons must be 16, 32, 64 or 128, got %d", config.ErrInvalid, parsed.neurons)
			}
		}
		return newMLP(otype, nInput, nOutput, parsed, src, func(fanIn, fanOut int, src Source) float64 {
			bound := math.Sqrt(6 / float64(fanIn+fanOut))
			return (src.Float64()*2 - 1) * bound
		})
	}
}

func (m *MLP) NInputDims() int  { return m.nInput }
func (m *MLP) NOutputDims() int { return m.nOutput }

func (m *MLP) Regress(x *mat.Dense) (*mat.Dense, error) {
	_, cols := x.Dims()
	if cols != m.nInput {
		return nil, fmt.Errorf("%w: %s expects %d input features, got %d", tensor.ErrShape, m.otype, m.nInput, cols)
	}
	h := x
	last := len(m.layers) - 1
	for i, w := range m.layers {
		act := m.hidden
		if i == last {
			act = m.output
		}
		var next mat.Dense
		next.Mul(h, w)
		next.Apply(func(_, _ int, v float64) float64 { return act(v) }, &next)
		h = &next
	}
	return h, nil
}

func (m *MLP) Parameters() []model.Parameter {
	params := make([]model.Parameter, len(m.layers))
	for i, w := range m.layers {
		r, c := w.Dims()
		data := make([]float64, r*c)
		for row := 0; row < r; row++ {
			mat.Row(data[row*c:(row+1)*c], row, w)
		}
		params[i] = model.Parameter{
			Name:  layerName(i),
			Shape: []int{r, c},
			Data:  data,
		}
	}
	return params
}

// LoadParameters replaces every layer. Names and shapes must match exactly;
// nothing is modified when any of them does not.
func (m *MLP) LoadParameters(params []model.Parameter) error {
	if len(params) != len(m.layers) {
		return fmt.Errorf("%w: %s has %d layers, got %d parameters", ErrParameterMismatch, m.otype, len(m.layers), len(params))
	}
	next := make([]*mat.Dense, len(m.layers))
	for i, p := range params {
		r, c := m.layers[i].Dims()
		if p.Name != layerName(i) {
			return fmt.Errorf("%w: expected %s, got %s", ErrParameterMismatch, layerName(i), p.Name)
		}
		if len(p.Shape) != 2 || p.Shape[0] != r || p.Shape[1] != c || len(p.Data) != r*c {
			return fmt.Errorf("%w: %s expects shape [%d %d], got %v with %d values", ErrParameterMismatch, p.Name, r, c, p.Shape, len(p.Data))
		}
		data := make([]float64, len(p.Data))
		copy(data, p.Data)
		next[i] = mat.NewDense(r, c, data)
	}
	m.layers = next
	return nil
}

func layerName(i int) string {
	return fmt.Sprintf("layers.%d.weight", i)
}
