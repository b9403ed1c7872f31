package neuralenv

import (
	"context"
	"image/color"
	"math"
	"math/bits"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"neuralenv/internal/background"
	"neuralenv/internal/config"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(Options{StoreKind: "memory"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestClientCreateEvaluate(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	info, err := client.Create(ctx, CreateRequest{Seed: 42})
	require.NoError(t, err)
	require.NotEmpty(t, info.ID)
	require.Equal(t, background.NeuralEnvironmentMapTag, info.Background)
	// SH degree 3 (9) -> 16 -> 16 -> 3, bias free.
	require.Equal(t, 9*16+16*16+16*3, info.ParameterCount)

	dirs := [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, -1}}
	first, err := client.Evaluate(ctx, EvaluateRequest{CheckpointID: info.ID, Directions: dirs})
	require.NoError(t, err)
	require.Equal(t, "eval", first.Mode)
	require.Len(t, first.Colors, 3)
	for _, row := range first.Colors {
		require.Len(t, row, 3)
		for _, v := range row {
			require.Greater(t, v, 0.0)
			require.Less(t, v, 1.0)
		}
	}

	second, err := client.Evaluate(ctx, EvaluateRequest{CheckpointID: info.ID, Directions: dirs, Mode: "train", Seed: 9})
	require.NoError(t, err)
	require.Equal(t, first.Colors, second.Colors, "augmentation is off, training must match evaluation")
}

func TestClientCreateIsSeedDeterministic(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	a, err := client.Create(ctx, CreateRequest{Seed: 7})
	require.NoError(t, err)
	b, err := client.Create(ctx, CreateRequest{Seed: 7})
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)

	dirs := [][]float64{{0.6, 0.8, 0}}
	ra, err := client.Evaluate(ctx, EvaluateRequest{CheckpointID: a.ID, Directions: dirs})
	require.NoError(t, err)
	rb, err := client.Evaluate(ctx, EvaluateRequest{CheckpointID: b.ID, Directions: dirs})
	require.NoError(t, err)
	require.Equal(t, ra.Colors, rb.Colors)
}

func TestClientEvaluateTrainingAugmentation(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	info, err := client.Create(ctx, CreateRequest{
		Config: map[string]any{"random_aug": true, "random_aug_prob": 1.0},
		Seed:   3,
	})
	require.NoError(t, err)

	dirs := [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {-1, 0, 0}}
	result, err := client.Evaluate(ctx, EvaluateRequest{CheckpointID: info.ID, Directions: dirs, Mode: "training", Seed: 5})
	require.NoError(t, err)
	for _, row := range result.Colors[1:] {
		require.Equal(t, result.Colors[0], row)
	}
	for _, v := range result.Colors[0] {
		require.GreaterOrEqual(t, v, 0.0)
		require.Less(t, v, 1.0)
	}

	again, err := client.Evaluate(ctx, EvaluateRequest{CheckpointID: info.ID, Directions: dirs, Mode: "training", Seed: 5})
	require.NoError(t, err)
	require.Equal(t, result.Colors, again.Colors)

	eval, err := client.Evaluate(ctx, EvaluateRequest{CheckpointID: info.ID, Directions: dirs})
	require.NoError(t, err)
	require.NotEqual(t, eval.Colors[0], eval.Colors[3])
}

func TestClientEvaluateNormalize(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	info, err := client.Create(ctx, CreateRequest{Seed: 1})
	require.NoError(t, err)

	unit, err := client.Evaluate(ctx, EvaluateRequest{CheckpointID: info.ID, Directions: [][]float64{{0, 0.6, 0.8}}})
	require.NoError(t, err)
	scaled, err := client.Evaluate(ctx, EvaluateRequest{CheckpointID: info.ID, Directions: [][]float64{{0, 3, 4}}, Normalize: true})
	require.NoError(t, err)
	require.InDeltaSlice(t, unit.Colors[0], scaled.Colors[0], 1e-12)

	_, err = client.Evaluate(ctx, EvaluateRequest{CheckpointID: info.ID, Directions: [][]float64{{0, 0, 0}}, Normalize: true})
	require.Error(t, err)
}

func TestClientEvaluateErrors(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	info, err := client.Create(ctx, CreateRequest{Seed: 1})
	require.NoError(t, err)

	_, err = client.Evaluate(ctx, EvaluateRequest{CheckpointID: "missing", Directions: [][]float64{{1, 0, 0}}})
	require.ErrorIs(t, err, ErrCheckpointNotFound)

	_, err = client.Evaluate(ctx, EvaluateRequest{CheckpointID: info.ID, Directions: [][]float64{{1, 0, 0}}, Mode: "test"})
	require.ErrorIs(t, err, background.ErrUnknownMode)

	_, err = client.Evaluate(ctx, EvaluateRequest{CheckpointID: info.ID, Directions: [][]float64{{1, 0}}})
	require.Error(t, err)

	empty, err := client.Evaluate(ctx, EvaluateRequest{CheckpointID: info.ID})
	require.NoError(t, err)
	require.Empty(t, empty.Colors)
}

func TestClientCreateErrors(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	_, err := client.Create(ctx, CreateRequest{Background: "textured-background"})
	require.ErrorIs(t, err, background.ErrBackgroundNotFound)

	_, err = client.Create(ctx, CreateRequest{Config: map[string]any{"random_aug_prob": 2.0}})
	require.ErrorIs(t, err, config.ErrInvalid)

	items, err := client.Checkpoints(ctx)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestClientPanorama(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	info, err := client.Create(ctx, CreateRequest{
		Background: background.SolidColorTag,
		Config:     map[string]any{"color": []any{1.0, 0.5, 0.0}},
	})
	require.NoError(t, err)

	img, err := client.Panorama(ctx, PanoramaRequest{CheckpointID: info.ID, Width: 8, Height: 4})
	require.NoError(t, err)
	require.Equal(t, 8, img.Bounds().Dx())
	require.Equal(t, 4, img.Bounds().Dy())
	require.Equal(t, color.NRGBA{R: 255, G: 128, B: 0, A: 255}, img.NRGBAAt(3, 2))

	_, err = client.Panorama(ctx, PanoramaRequest{CheckpointID: info.ID, Width: -1, Height: 4})
	require.Error(t, err)
}

func TestClientPanoramaGreyscale(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	info, err := client.Create(ctx, CreateRequest{
		Background: background.SolidColorTag,
		Config:     map[string]any{"n_output_dims": 1, "color": []any{0.2}},
	})
	require.NoError(t, err)

	img, err := client.Panorama(ctx, PanoramaRequest{CheckpointID: info.ID})
	require.NoError(t, err)
	require.Equal(t, defaultPanoramaWidth, img.Bounds().Dx())
	require.Equal(t, defaultPanoramaHeight, img.Bounds().Dy())
	require.Equal(t, color.NRGBA{R: 51, G: 51, B: 51, A: 255}, img.NRGBAAt(0, 0))
}

func TestEquirectangularDirectionsAreUnit(t *testing.T) {
	dirs := equirectangularDirections(6, 3)
	require.Equal(t, []int{3, 6, 3}, dirs.Shape())
	for _, d := range dirs.Rows() {
		require.InDelta(t, 1.0, math.Sqrt(d[0]*d[0]+d[1]*d[1]+d[2]*d[2]), 1e-12)
	}
	// Top row looks up, bottom row looks down.
	require.Greater(t, dirs.Row(0)[2], 0.0)
	require.Less(t, dirs.Row(17)[2], 0.0)
}

func TestClientCheckpointsAndDelete(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	a, err := client.Create(ctx, CreateRequest{Seed: 1})
	require.NoError(t, err)
	b, err := client.Create(ctx, CreateRequest{Background: background.SolidColorTag})
	require.NoError(t, err)
	require.Zero(t, b.ParameterCount)

	items, err := client.Checkpoints(ctx)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, item := range items {
		ids[item.ID] = true
	}
	require.Equal(t, map[string]bool{a.ID: true, b.ID: true}, ids)

	require.NoError(t, client.Delete(ctx, a.ID))
	require.ErrorIs(t, client.Delete(ctx, a.ID), ErrCheckpointNotFound)

	items, err = client.Checkpoints(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, b.ID, items[0].ID)
}

func TestClientLoadRestoresParameters(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	info, err := client.Create(ctx, CreateRequest{
		Config: map[string]any{
			"mlp_network_config": map[string]any{"otype": "FullyFusedMLP", "activation": "ReLU", "n_neurons": 16, "n_hidden_layers": 1},
		},
		Seed: 11,
	})
	require.NoError(t, err)

	first, err := client.Load(ctx, info.ID, 0)
	require.NoError(t, err)
	second, err := client.Load(ctx, info.ID, 99)
	require.NoError(t, err)
	require.Equal(t, first.Parameters(), second.Parameters())
}

func TestClientRegistry(t *testing.T) {
	reg := newTestClient(t).Registry()
	require.Contains(t, reg.Backgrounds, background.NeuralEnvironmentMapTag)
	require.Contains(t, reg.Backgrounds, background.SolidColorTag)
	require.Contains(t, reg.Encodings, "SphericalHarmonics")
	require.Contains(t, reg.Networks, "VanillaMLP")
	require.Contains(t, reg.Activations, "sigmoid")
}

func TestNewClientUnsupportedStore(t *testing.T) {
	_, err := NewClient(Options{StoreKind: "postgres"})
	require.Error(t, err)
}

func TestClientTransientEvaluateStoresNothing(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	req := CreateRequest{Seed: 17}
	dirs := [][]float64{{1, 0, 0}, {0, 0.6, 0.8}}
	for i := 0; i < 3; i++ {
		_, err := client.Evaluate(ctx, EvaluateRequest{Transient: &req, Directions: dirs})
		require.NoError(t, err)
	}
	items, err := client.Checkpoints(ctx)
	require.NoError(t, err)
	require.Empty(t, items)

	transient, err := client.Evaluate(ctx, EvaluateRequest{Transient: &req, Directions: dirs, Seed: 4})
	require.NoError(t, err)
	info, err := client.Create(ctx, req)
	require.NoError(t, err)
	stored, err := client.Evaluate(ctx, EvaluateRequest{CheckpointID: info.ID, Directions: dirs, Seed: 4})
	require.NoError(t, err)
	require.Equal(t, stored.Colors, transient.Colors)

	_, err = client.Evaluate(ctx, EvaluateRequest{CheckpointID: info.ID, Transient: &req, Directions: dirs})
	require.Error(t, err)
}

func TestClientTransientPanorama(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	img, err := client.Panorama(ctx, PanoramaRequest{
		Transient: &CreateRequest{
			Background: background.SolidColorTag,
			Config:     map[string]any{"color": []any{0.0, 0.0, 1.0}},
		},
		Width:  4,
		Height: 2,
	})
	require.NoError(t, err)
	require.Equal(t, color.NRGBA{B: 255, A: 255}, img.NRGBAAt(1, 1))

	items, err := client.Checkpoints(ctx)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestClientPanoramaRejectsOversizedImages(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	solid := &CreateRequest{Background: background.SolidColorTag}

	// Each side squares to a product that wraps to zero in int arithmetic.
	wrap := 1 << (bits.UintSize / 2)
	for _, size := range [][2]int{
		{wrap, wrap},
		{maxPanoramaPixels + 1, 1},
		{1, maxPanoramaPixels + 1},
		{4097, 4096},
		{-4, 4},
		{4, -4},
	} {
		_, err := client.Panorama(ctx, PanoramaRequest{Transient: solid, Width: size[0], Height: size[1]})
		require.Error(t, err, "size %dx%d", size[0], size[1])
	}

	img, err := client.Panorama(ctx, PanoramaRequest{Transient: solid, Width: 1, Height: 1})
	require.NoError(t, err)
	require.Equal(t, 1, img.Bounds().Dx())
}

func TestClientCheckpointsListInCreationOrder(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	times := []time.Time{base.Add(100 * time.Millisecond), base}
	client.now = func() time.Time {
		next := times[0]
		times = times[1:]
		return next
	}

	later, err := client.Create(ctx, CreateRequest{Background: background.SolidColorTag})
	require.NoError(t, err)
	earlier, err := client.Create(ctx, CreateRequest{Background: background.SolidColorTag})
	require.NoError(t, err)
	require.Equal(t, "2026-01-02T03:04:05.000000000Z", earlier.CreatedAtUTC)

	items, err := client.Checkpoints(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, earlier.ID, items[0].ID)
	require.Equal(t, later.ID, items[1].ID)
}
