package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"os"

	"neuralenv/internal/logging"
	"neuralenv/internal/storage"
	"neuralenv/pkg/neuralenv"
)

const defaultDBPath = "neuralenv.db"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "create":
		return runCreate(ctx, args[1:])
	case "eval":
		return runEval(ctx, args[1:])
	case "panorama":
		return runPanorama(ctx, args[1:])
	case "checkpoints":
		return runCheckpoints(ctx, args[1:])
	case "delete":
		return runDelete(ctx, args[1:])
	case "registry":
		return runRegistry(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type commonFlags struct {
	storeKind *string
	dbPath    *string
	logLevel  *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		storeKind: fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:    fs.String("db-path", defaultDBPath, "sqlite database path"),
		logLevel:  fs.String("log-level", "warn", "log level: debug|info|warn|error"),
	}
}

func (f commonFlags) client() (*neuralenv.Client, error) {
	logger, err := logging.New(os.Stderr, "neuralenvctl", *f.logLevel, true)
	if err != nil {
		return nil, err
	}
	return neuralenv.NewClient(neuralenv.Options{
		StoreKind: *f.storeKind,
		DBPath:    *f.dbPath,
		Logger:    &logger,
	})
}

// source flags pick the background to read: a stored checkpoint by id, or a
// transient one built from a config file and never stored.
type sourceFlags struct {
	id         *string
	configPath *string
	background *string
	seed       *int64
}

func addSourceFlags(fs *flag.FlagSet) sourceFlags {
	return sourceFlags{
		id:         fs.String("id", "", "checkpoint id"),
		configPath: fs.String("config", "", "background TOML file used when --id is not set"),
		background: fs.String("background", "", "background tag used when --id is not set"),
		seed:       fs.Int64("init-seed", 0, "initialisation seed used when --id is not set"),
	}
}

func (f sourceFlags) resolve(fs *flag.FlagSet) (string, *neuralenv.CreateRequest, error) {
	if *f.id != "" {
		if *f.configPath != "" {
			return "", nil, errors.New("--id and --config are mutually exclusive")
		}
		return *f.id, nil, nil
	}
	req, err := createRequest(fs, *f.configPath, *f.background, "init-seed", *f.seed)
	if err != nil {
		return "", nil, err
	}
	return "", &req, nil
}

func runCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	common := addCommonFlags(fs)
	configPath := fs.String("config", "", "background TOML file")
	background := fs.String("background", "", "background tag (overrides the config file)")
	seed := fs.Int64("seed", 0, "initialisation seed (overrides the config file)")
	jsonOut := fs.Bool("json", false, "emit the checkpoint summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := createRequest(fs, *configPath, *background, "seed", *seed)
	if err != nil {
		return err
	}
	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	info, err := client.Create(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(checkpointJSON(info))
	}
	fmt.Printf("created checkpoint=%s background=%s parameters=%d\n", info.ID, info.Background, info.ParameterCount)
	return nil
}

func runEval(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	common := addCommonFlags(fs)
	source := addSourceFlags(fs)
	dirs := fs.String("dirs", "", "directions as x,y,z triples separated by ';'")
	mode := fs.String("mode", "eval", "mode: eval|train")
	seed := fs.Int64("seed", 0, "augmentation seed")
	normalize := fs.Bool("normalize", false, "rescale directions to unit length")
	if err := fs.Parse(args); err != nil {
		return err
	}

	directions, err := parseDirections(*dirs)
	if err != nil {
		return err
	}
	id, transient, err := source.resolve(fs)
	if err != nil {
		return err
	}
	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	result, err := client.Evaluate(ctx, neuralenv.EvaluateRequest{
		CheckpointID: id,
		Transient:    transient,
		Directions:   directions,
		Mode:         *mode,
		Seed:         *seed,
		Normalize:    *normalize,
	})
	if err != nil {
		return err
	}
	return writeJSON(struct {
		CheckpointID string      `json:"checkpoint_id,omitempty"`
		Mode         string      `json:"mode"`
		Colors       [][]float64 `json:"colors"`
	}{
		CheckpointID: id,
		Mode:         result.Mode,
		Colors:       result.Colors,
	})
}

func runPanorama(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("panorama", flag.ContinueOnError)
	common := addCommonFlags(fs)
	source := addSourceFlags(fs)
	width := fs.Int("width", 256, "image width in pixels")
	height := fs.Int("height", 128, "image height in pixels")
	out := fs.String("out", "", "output PNG path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("--out is required")
	}
	id, transient, err := source.resolve(fs)
	if err != nil {
		return err
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	img, err := client.Panorama(ctx, neuralenv.PanoramaRequest{
		CheckpointID: id,
		Transient:    transient,
		Width:        *width,
		Height:       *height,
	})
	if err != nil {
		return err
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	label := id
	if label == "" {
		label = "transient"
	}
	fmt.Printf("panorama checkpoint=%s size=%dx%d out=%s\n", label, img.Bounds().Dx(), img.Bounds().Dy(), *out)
	return nil
}

func runCheckpoints(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkpoints", flag.ContinueOnError)
	common := addCommonFlags(fs)
	jsonOut := fs.Bool("json", false, "emit checkpoints as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Checkpoints(ctx)
	if err != nil {
		return err
	}
	if *jsonOut {
		out := make([]checkpointItem, 0, len(items))
		for _, item := range items {
			out = append(out, checkpointJSON(item))
		}
		return writeJSON(out)
	}
	for _, item := range items {
		fmt.Printf("checkpoint=%s background=%s parameters=%d created_at=%s\n", item.ID, item.Background, item.ParameterCount, item.CreatedAtUTC)
	}
	return nil
}

func runDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	common := addCommonFlags(fs)
	id := fs.String("id", "", "checkpoint id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("--id is required")
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Delete(ctx, *id); err != nil {
		return err
	}
	fmt.Printf("deleted checkpoint=%s\n", *id)
	return nil
}

func runRegistry(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("registry", flag.ContinueOnError)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	reg := client.Registry()
	return writeJSON(struct {
		Backgrounds []string `json:"backgrounds"`
		Encodings   []string `json:"encodings"`
		Networks    []string `json:"networks"`
		Activations []string `json:"activations"`
	}{
		Backgrounds: reg.Backgrounds,
		Encodings:   reg.Encodings,
		Networks:    reg.Networks,
		Activations: reg.Activations,
	})
}

type checkpointItem struct {
	ID             string `json:"id"`
	Background     string `json:"background"`
	ParameterCount int    `json:"parameter_count"`
	CreatedAtUTC   string `json:"created_at_utc"`
}

func checkpointJSON(info neuralenv.CheckpointInfo) checkpointItem {
	return checkpointItem{
		ID:             info.ID,
		Background:     info.Background,
		ParameterCount: info.ParameterCount,
		CreatedAtUTC:   info.CreatedAtUTC,
	}
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: neuralenvctl <create|eval|panorama|checkpoints|delete|registry> [flags]", msg)
}
