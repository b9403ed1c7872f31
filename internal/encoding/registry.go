package encoding

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"neuralenv/internal/config"
)

const (
	SupportedSchemaVersion = 1
	SupportedCodecVersion  = 1
)

var (
	ErrEncodingExists   = errors.New("encoding already registered")
	ErrEncodingNotFound = errors.New("encoding not found")
	ErrVersionMismatch  = errors.New("encoding version mismatch")
)

// Encoder maps N x NInputDims inputs in [0,1] to N x NOutputDims embeddings.
type Encoder interface {
	NInputDims() int
	NOutputDims() int
	Encode(x *mat.Dense) (*mat.Dense, error)
}

type Factory func(nInputDims int, cfg config.Values) (Encoder, error)

type Spec struct {
	Name          string
	Factory       Factory
	SchemaVersion int
	CodecVersion  int
}

type registeredEncoding struct {
	factory       Factory
	schemaVersion int
	codecVersion  int
}

var encodingRegistry = struct {
	mu sync.RWMutex
	m  map[string]registeredEncoding
}{
	m: make(map[string]registeredEncoding),
}

func init() {
	initializeBuiltInEncodings()
}

func initializeBuiltInEncodings() {
	MustRegister("SphericalHarmonics", NewSphericalHarmonics)
	MustRegister("Frequency", NewFrequency)
	MustRegister("Identity", NewIdentity)
}

func Register(name string, factory Factory) error {
	return RegisterWithSpec(Spec{
		Name:          name,
		Factory:       factory,
		SchemaVersion: SupportedSchemaVersion,
		CodecVersion:  SupportedCodecVersion,
	})
}

func MustRegister(name string, factory Factory) {
	if err := Register(name, factory); err != nil {
		panic(err)
	}
}

func RegisterWithSpec(spec Spec) error {
	if spec.Name == "" {
		return errors.New("encoding name is required")
	}
	if spec.Factory == nil {
		return errors.New("encoding factory is required")
	}
	if spec.SchemaVersion != SupportedSchemaVersion || spec.CodecVersion != SupportedCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, spec.SchemaVersion, spec.CodecVersion)
	}

	encodingRegistry.mu.Lock()
	defer encodingRegistry.mu.Unlock()

	if _, exists := encodingRegistry.m[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrEncodingExists, spec.Name)
	}
	encodingRegistry.m[spec.Name] = registeredEncoding{
		factory:       spec.Factory,
		schemaVersion: spec.SchemaVersion,
		codecVersion:  spec.CodecVersion,
	}
	return nil
}

// New builds the encoder named by cfg["otype"]. With include_xyz set, the
// raw input rescaled to [-1,1] is prepended to the embedding.
func New(nInputDims int, cfg config.Values) (Encoder, error) {
	otype, err := cfg.String("otype", "")
	if err != nil {
		return nil, err
	}
	if otype == "" {
		return nil, fmt.Errorf("%w: encoding otype is required", config.ErrInvalid)
	}
	includeXYZ, err := cfg.Bool("include_xyz", false)
	if err != nil {
		return nil, err
	}

	encodingRegistry.mu.RLock()
	entry, ok := encodingRegistry.m[otype]
	encodingRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEncodingNotFound, otype)
	}
	if entry.schemaVersion != SupportedSchemaVersion || entry.codecVersion != SupportedCodecVersion {
		return nil, fmt.Errorf("%w: %s", ErrVersionMismatch, otype)
	}

	encoder, err := entry.factory(nInputDims, cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", otype, err)
	}
	if includeXYZ {
		encoder = withXYZ{inner: encoder}
	}
	return encoder, nil
}

func List() []string {
	encodingRegistry.mu.RLock()
	defer encodingRegistry.mu.RUnlock()

	names := make([]string, 0, len(encodingRegistry.m))
	for name := range encodingRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetRegistryForTests() {
	encodingRegistry.mu.Lock()
	encodingRegistry.m = make(map[string]registeredEncoding)
	encodingRegistry.mu.Unlock()
	initializeBuiltInEncodings()
}
