package neuralenv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"neuralenv/internal/background"
	"neuralenv/internal/config"
	"neuralenv/internal/encoding"
	"neuralenv/internal/model"
	"neuralenv/internal/nn"
	"neuralenv/internal/storage"
	"neuralenv/internal/tensor"
)

const (
	defaultDBPath         = "neuralenv.db"
	defaultPanoramaWidth  = 256
	defaultPanoramaHeight = 128
	maxPanoramaPixels     = 4096 * 4096
	defaultBackgroundTag  = background.NeuralEnvironmentMapTag
)

var ErrCheckpointNotFound = errors.New("checkpoint not found")

type Options struct {
	StoreKind string
	DBPath    string
	Logger    *zerolog.Logger
}

type Client struct {
	store  storage.Store
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	initialized bool
}

type CreateRequest struct {
	Background string
	Config     map[string]any
	Seed       int64
}

type CheckpointInfo struct {
	ID             string
	Background     string
	ParameterCount int
	CreatedAtUTC   string
}

type EvaluateRequest struct {
	CheckpointID string
	Directions   [][]float64
	Mode         string
	Seed         int64
	// Normalize rescales every direction to unit length before evaluation.
	Normalize bool
	// Transient, when set instead of CheckpointID, evaluates a background
	// built on the fly. Nothing is written to the store.
	Transient *CreateRequest
}

type EvaluateResult struct {
	Mode   string
	Colors [][]float64
}

type PanoramaRequest struct {
	CheckpointID string
	Transient    *CreateRequest
	Width        int
	Height       int
}

type RegistryInfo struct {
	Backgrounds []string
	Encodings   []string
	Networks    []string
	Activations []string
}

func NewClient(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{store: store, logger: logger, now: time.Now}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	c.initialized = true
	return nil
}

// Create builds a background with freshly initialised parameters and stores
// it as a new checkpoint.
func (c *Client) Create(ctx context.Context, req CreateRequest) (CheckpointInfo, error) {
	req, tree, err := prepareCreate(req)
	if err != nil {
		return CheckpointInfo{}, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return CheckpointInfo{}, err
	}

	bg, err := background.New(req.Background, config.Values(tree), c.backgroundOptions(req.Seed))
	if err != nil {
		return CheckpointInfo{}, err
	}

	checkpoint := model.Checkpoint{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		ID:           uuid.NewString(),
		Background:   req.Background,
		Config:       tree,
		Seed:         req.Seed,
		Parameters:   bg.Parameters(),
		CreatedAtUTC: c.now().UTC().Format(model.TimestampLayout),
	}
	if err := c.store.SaveCheckpoint(ctx, checkpoint); err != nil {
		return CheckpointInfo{}, fmt.Errorf("save checkpoint: %w", err)
	}

	summary := checkpoint.Summary()
	c.logger.Info().
		Str("checkpoint", summary.ID).
		Str("background", summary.Background).
		Int("parameters", summary.ParameterCount).
		Msg("checkpoint created")
	return toInfo(summary), nil
}

// Build constructs the background req describes with freshly initialised
// parameters, exactly as Create would, without storing anything.
func (c *Client) Build(req CreateRequest) (background.Background, error) {
	req, tree, err := prepareCreate(req)
	if err != nil {
		return nil, err
	}
	return background.New(req.Background, config.Values(tree), c.backgroundOptions(req.Seed))
}

// Load rebuilds the checkpoint's background and restores its parameters. seed
// drives any augmentation draws the background makes afterwards.
func (c *Client) Load(ctx context.Context, id string, seed int64) (background.Background, error) {
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	checkpoint, ok, err := c.store.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}

	bg, err := background.New(checkpoint.Background, config.Values(checkpoint.Config), c.backgroundOptions(seed))
	if err != nil {
		return nil, err
	}
	if err := bg.LoadParameters(checkpoint.Parameters); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", id, err)
	}
	return bg, nil
}

func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateResult, error) {
	mode, err := background.ParseMode(req.Mode)
	if err != nil {
		return EvaluateResult{}, err
	}
	dirs, err := directionsTensor(req.Directions, req.Normalize)
	if err != nil {
		return EvaluateResult{}, err
	}
	bg, err := c.open(ctx, req.CheckpointID, req.Transient, req.Seed)
	if err != nil {
		return EvaluateResult{}, err
	}

	out, err := bg.Forward(mode, dirs)
	if err != nil {
		return EvaluateResult{}, err
	}
	c.logger.Debug().
		Str("checkpoint", req.CheckpointID).
		Str("mode", mode.String()).
		Int("directions", len(req.Directions)).
		Msg("checkpoint evaluated")
	return EvaluateResult{Mode: mode.String(), Colors: out.Rows()}, nil
}

// Panorama renders the background in evaluation mode as an equirectangular
// image: longitude runs across, the +z pole is the top row. One- and
// two-channel backgrounds render as grey from their first channel.
func (c *Client) Panorama(ctx context.Context, req PanoramaRequest) (*image.NRGBA, error) {
	if req.Width == 0 {
		req.Width = defaultPanoramaWidth
	}
	if req.Height == 0 {
		req.Height = defaultPanoramaHeight
	}
	if req.Width <= 0 || req.Height <= 0 || req.Width > maxPanoramaPixels/req.Height {
		return nil, fmt.Errorf("invalid panorama size %dx%d", req.Width, req.Height)
	}
	bg, err := c.open(ctx, req.CheckpointID, req.Transient, 0)
	if err != nil {
		return nil, err
	}

	out, err := bg.Forward(background.ModeEvaluation, equirectangularDirections(req.Width, req.Height))
	if err != nil {
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, req.Width, req.Height))
	for y := 0; y < req.Height; y++ {
		for x := 0; x < req.Width; x++ {
			img.SetNRGBA(x, y, pixel(out.Row(y*req.Width+x)))
		}
	}
	return img, nil
}

func (c *Client) Checkpoints(ctx context.Context) ([]CheckpointInfo, error) {
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	summaries, err := c.store.ListCheckpoints(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CheckpointInfo, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, toInfo(s))
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.ensureStore(ctx); err != nil {
		return err
	}
	deleted, err := c.store.DeleteCheckpoint(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	c.logger.Info().Str("checkpoint", id).Msg("checkpoint deleted")
	return nil
}

func (c *Client) Registry() RegistryInfo {
	return RegistryInfo{
		Backgrounds: background.List(),
		Encodings:   encoding.List(),
		Networks:    nn.ListNetworks(),
		Activations: nn.ListActivations(),
	}
}

// open returns the background a request reads: a stored checkpoint, or a
// transient one carrying the parameters Create would have stored. seed drives
// augmentation draws either way.
func (c *Client) open(ctx context.Context, id string, transient *CreateRequest, seed int64) (background.Background, error) {
	if transient == nil {
		return c.Load(ctx, id, seed)
	}
	if id != "" {
		return nil, errors.New("checkpoint id and transient background are mutually exclusive")
	}
	initial, err := c.Build(*transient)
	if err != nil {
		return nil, err
	}
	req, tree, err := prepareCreate(*transient)
	if err != nil {
		return nil, err
	}
	bg, err := background.New(req.Background, config.Values(tree), c.backgroundOptions(seed))
	if err != nil {
		return nil, err
	}
	if err := bg.LoadParameters(initial.Parameters()); err != nil {
		return nil, err
	}
	return bg, nil
}

func (c *Client) backgroundOptions(seed int64) background.Options {
	logger := c.logger
	return background.Options{
		Rand:   rand.New(rand.NewSource(seed)),
		Logger: &logger,
	}
}

func prepareCreate(req CreateRequest) (CreateRequest, map[string]any, error) {
	if req.Background == "" {
		req.Background = defaultBackgroundTag
	}
	tree, err := normalizeConfig(req.Config)
	if err != nil {
		return CreateRequest{}, nil, err
	}
	return req, tree, nil
}

// normalizeConfig passes the tree through JSON so stored checkpoints hold the
// same plain types whichever store they come back from.
func normalizeConfig(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	return out, nil
}

func directionsTensor(dirs [][]float64, normalize bool) (tensor.Tensor, error) {
	if len(dirs) == 0 {
		return tensor.Zeros(0, 3), nil
	}
	rows := dirs
	if normalize {
		rows = make([][]float64, len(dirs))
		for i, d := range dirs {
			n := 0.0
			for _, v := range d {
				n += v * v
			}
			n = math.Sqrt(n)
			if n == 0 {
				return tensor.Tensor{}, fmt.Errorf("%w: direction %d has zero length", tensor.ErrShape, i)
			}
			rows[i] = make([]float64, len(d))
			for j, v := range d {
				rows[i][j] = v / n
			}
		}
	}
	return tensor.FromRows(rows)
}

func equirectangularDirections(width, height int) tensor.Tensor {
	data := make([]float64, 0, width*height*3)
	for y := 0; y < height; y++ {
		theta := (float64(y) + 0.5) / float64(height) * math.Pi
		for x := 0; x < width; x++ {
			phi := ((float64(x)+0.5)/float64(width)*2 - 1) * math.Pi
			data = append(data,
				math.Sin(theta)*math.Cos(phi),
				math.Sin(theta)*math.Sin(phi),
				math.Cos(theta),
			)
		}
	}
	return tensor.MustNew(data, height, width, 3)
}

func pixel(values []float64) color.NRGBA {
	if len(values) < 3 {
		g := channel(values[0])
		return color.NRGBA{R: g, G: g, B: g, A: 255}
	}
	return color.NRGBA{R: channel(values[0]), G: channel(values[1]), B: channel(values[2]), A: 255}
}

func channel(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(v * 255))
}

func toInfo(s model.CheckpointSummary) CheckpointInfo {
	return CheckpointInfo{
		ID:             s.ID,
		Background:     s.Background,
		ParameterCount: s.ParameterCount,
		CreatedAtUTC:   s.CreatedAtUTC,
	}
}
