package nn

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"neuralenv/internal/config"
)

var (
	ErrNetworkExists   = errors.New("network already registered")
	ErrNetworkNotFound = errors.New("network not found")
	ErrNetworkVersion  = errors.New("network version mismatch")
)

type NetworkFactory func(nInputDims, nOutputDims int, cfg config.Values, src Source) (Regressor, error)

type NetworkSpec struct {
	Name          string
	Factory       NetworkFactory
	SchemaVersion int
	CodecVersion  int
}

type registeredNetwork struct {
	factory       NetworkFactory
	schemaVersion int
	codecVersion  int
}

var networkRegistry = struct {
	mu sync.RWMutex
	m  map[string]registeredNetwork
}{
	m: make(map[string]registeredNetwork),
}

func init() {
	initializeBuiltInNetworks()
}

func initializeBuiltInNetworks() {
	MustRegisterNetwork("VanillaMLP", NewVanillaMLP)
	MustRegisterNetwork("FullyFusedMLP", NewFusedMLP("FullyFusedMLP"))
	MustRegisterNetwork("CutlassMLP", NewFusedMLP("CutlassMLP"))
}

func RegisterNetwork(name string, factory NetworkFactory) error {
	return RegisterNetworkWithSpec(NetworkSpec{
		Name:          name,
		Factory:       factory,
		SchemaVersion: SupportedSchemaVersion,
		CodecVersion:  SupportedCodecVersion,
	})
}

func MustRegisterNetwork(name string, factory NetworkFactory) {
	if err := RegisterNetwork(name, factory); err != nil {
		panic(err)
	}
}

func RegisterNetworkWithSpec(spec NetworkSpec) error {
	if spec.Name == "" {
		return errors.New("network name is required")
	}
	if spec.Factory == nil {
		return errors.New("network factory is required")
	}
	if spec.SchemaVersion != SupportedSchemaVersion || spec.CodecVersion != SupportedCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrNetworkVersion, spec.SchemaVersion, spec.CodecVersion)
	}

	networkRegistry.mu.Lock()
	defer networkRegistry.mu.Unlock()

	if _, exists := networkRegistry.m[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrNetworkExists, spec.Name)
	}
	networkRegistry.m[spec.Name] = registeredNetwork{
		factory:       spec.Factory,
		schemaVersion: spec.SchemaVersion,
		codecVersion:  spec.CodecVersion,
	}
	return nil
}

// NewRegressor builds the network named by cfg["otype"].
func NewRegressor(nInputDims, nOutputDims int, cfg config.Values, src Source) (Regressor, error) {
	otype, err := cfg.String("otype", "")
	if err != nil {
		return nil, err
	}
	if otype == "" {
		return nil, fmt.Errorf("%w: network otype is required", config.ErrInvalid)
	}

	networkRegistry.mu.RLock()
	entry, ok := networkRegistry.m[otype]
	networkRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNetworkNotFound, otype)
	}
	if entry.schemaVersion != SupportedSchemaVersion || entry.codecVersion != SupportedCodecVersion {
		return nil, fmt.Errorf("%w: %s", ErrNetworkVersion, otype)
	}
	regressor, err := entry.factory(nInputDims, nOutputDims, cfg, src)
	if err != nil {
		return nil, fmt.Errorf("network %s: %w", otype, err)
	}
	return regressor, nil
}

func ListNetworks() []string {
	networkRegistry.mu.RLock()
	defer networkRegistry.mu.RUnlock()

	names := make([]string, 0, len(networkRegistry.m))
	for name := range networkRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetNetworkRegistryForTests() {
	networkRegistry.mu.Lock()
	networkRegistry.m = make(map[string]registeredNetwork)
	networkRegistry.mu.Unlock()
	initializeBuiltInNetworks()
}
