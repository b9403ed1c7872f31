package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"neuralenv/internal/background"
	"neuralenv/internal/config"
	"neuralenv/pkg/neuralenv"
)

// createRequest layers explicitly set flags over the optional TOML file.
func createRequest(fs *flag.FlagSet, configPath, backgroundTag, seedFlag string, seed int64) (neuralenv.CreateRequest, error) {
	file := config.File{Background: background.NeuralEnvironmentMapTag}
	if configPath != "" {
		loaded, err := config.LoadFile(configPath, file)
		if err != nil {
			return neuralenv.CreateRequest{}, err
		}
		file = loaded
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["background"] && backgroundTag != "" {
		file.Background = backgroundTag
	}
	if set[seedFlag] {
		file.Seed = seed
	}
	return neuralenv.CreateRequest{
		Background: file.Background,
		Config:     file.Config,
		Seed:       file.Seed,
	}, nil
}

// parseDirections reads "x,y,z;x,y,z". Blank input means no directions.
func parseDirections(raw string) ([][]float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out [][]float64
	for i, triple := range strings.Split(raw, ";") {
		triple = strings.TrimSpace(triple)
		if triple == "" {
			continue
		}
		parts := strings.Split(triple, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("direction %d: expected x,y,z, got %q", i, triple)
		}
		dir := make([]float64, 3)
		for j, part := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, fmt.Errorf("direction %d: %w", i, err)
			}
			dir[j] = v
		}
		out = append(out, dir)
	}
	return out, nil
}
