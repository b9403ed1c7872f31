package background

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"neuralenv/internal/config"
	"neuralenv/internal/model"
	"neuralenv/internal/nn"
	"neuralenv/internal/tensor"
)

var (
	ErrBackgroundExists   = errors.New("background already registered")
	ErrBackgroundNotFound = errors.New("background not found")
	ErrUnknownMode        = errors.New("unknown mode")
)

// Mode is the host model's training/evaluation state. Backgrounds only read it.
type Mode int

const (
	ModeEvaluation Mode = iota
	ModeTraining
)

func (m Mode) String() string {
	switch m {
	case ModeEvaluation:
		return "eval"
	case ModeTraining:
		return "train"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "eval", "evaluation", "inference":
		return ModeEvaluation, nil
	case "train", "training":
		return ModeTraining, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownMode, s)
	}
}

// Background maps a *B x 3 batch of unit view directions to a *B x C batch of
// colours or features.
type Background interface {
	NOutputDims() int
	Forward(mode Mode, dirs tensor.Tensor) (tensor.Tensor, error)
	Parameters() []model.Parameter
	LoadParameters(params []model.Parameter) error
}

type Options struct {
	// Rand drives weight initialisation and augmentation draws. When nil a
	// time-seeded source is used; pass a seeded one for reproducible output.
	Rand nn.Source
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

type Factory func(cfg config.Values, opts Options) (Background, error)

var backgroundRegistry = struct {
	mu sync.RWMutex
	m  map[string]Factory
}{
	m: make(map[string]Factory),
}

func init() {
	initializeBuiltInBackgrounds()
}

func initializeBuiltInBackgrounds() {
	MustRegister(NeuralEnvironmentMapTag, func(cfg config.Values, opts Options) (Background, error) {
		parsed, err := ParseNeuralEnvironmentMapConfig(cfg)
		if err != nil {
			return nil, err
		}
		return NewNeuralEnvironmentMap(parsed, opts)
	})
	MustRegister(SolidColorTag, func(cfg config.Values, opts Options) (Background, error) {
		parsed, err := ParseSolidColorConfig(cfg)
		if err != nil {
			return nil, err
		}
		return NewSolidColor(parsed, opts)
	})
}

func Register(tag string, factory Factory) error {
	if tag == "" {
		return errors.New("background tag is required")
	}
	if factory == nil {
		return errors.New("background factory is required")
	}

	backgroundRegistry.mu.Lock()
	defer backgroundRegistry.mu.Unlock()

	if _, exists := backgroundRegistry.m[tag]; exists {
		return fmt.Errorf("%w: %s", ErrBackgroundExists, tag)
	}
	backgroundRegistry.m[tag] = factory
	return nil
}

func MustRegister(tag string, factory Factory) {
	if err := Register(tag, factory); err != nil {
		panic(err)
	}
}

// New builds the background registered under tag from its config sub-tree.
func New(tag string, cfg config.Values, opts Options) (Background, error) {
	backgroundRegistry.mu.RLock()
	factory, ok := backgroundRegistry.m[tag]
	backgroundRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackgroundNotFound, tag)
	}
	bg, err := factory(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("background %s: %w", tag, err)
	}
	return bg, nil
}

func List() []string {
	backgroundRegistry.mu.RLock()
	defer backgroundRegistry.mu.RUnlock()

	tags := make([]string, 0, len(backgroundRegistry.m))
	for tag := range backgroundRegistry.m {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func resetRegistryForTests() {
	backgroundRegistry.mu.Lock()
	backgroundRegistry.m = make(map[string]Factory)
	backgroundRegistry.mu.Unlock()
	initializeBuiltInBackgrounds()
}

// augment reports whether this call takes the random-colour branch. The draw
// is only made when training with augmentation enabled.
func augment(mode Mode, enabled bool, prob float64, src nn.Source) bool {
	return mode == ModeTraining && enabled && src.Float64() < prob
}

// randomColor draws one colour shared by the whole batch.
func randomColor(src nn.Source, n int) []float64 {
	color := make([]float64, n)
	for i := range color {
		color[i] = src.Float64()
	}
	return color
}

func checkDirections(dirs tensor.Tensor) error {
	if dirs.LastDim() != 3 {
		return fmt.Errorf("%w: directions must end in 3, got shape %v", tensor.ErrShape, dirs.Shape())
	}
	return nil
}

func validateAugmentation(prob float64) error {
	if prob < 0 || prob > 1 {
		return fmt.Errorf("%w: random_aug_prob must be in [0,1], got %f", config.ErrInvalid, prob)
	}
	return nil
}
