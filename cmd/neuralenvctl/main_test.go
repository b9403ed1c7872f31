package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunRequiresCommand(t *testing.T) {
	if err := run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "usage:") {
		t.Fatalf("expected usage error, got: %v", err)
	}
	if err := run(context.Background(), []string{"train"}); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got: %v", err)
	}
}

func TestCreateCommandMemory(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"create", "--store", "memory", "--seed", "3", "--json"})
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var item checkpointItem
	if err := json.Unmarshal([]byte(out), &item); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if item.ID == "" || item.Background != "neural-environment-map-background" || item.ParameterCount == 0 {
		t.Fatalf("unexpected checkpoint: %+v", item)
	}
}

func TestEvalCommandFromConfig(t *testing.T) {
	path := writeTOML(t, `
background = "solid-color-background"

[config]
color = [0.25, 0.5, 0.75]
`)
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"eval",
			"--store", "memory",
			"--config", path,
			"--dirs", "1,0,0;0,0,1",
		})
	})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	var result struct {
		Mode   string      `json:"mode"`
		Colors [][]float64 `json:"colors"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if result.Mode != "eval" || len(result.Colors) != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	for _, row := range result.Colors {
		if len(row) != 3 || row[0] != 0.25 || row[1] != 0.5 || row[2] != 0.75 {
			t.Fatalf("unexpected colour: %v", row)
		}
	}
}

func TestEvalCommandRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	if err := run(ctx, []string{"eval", "--store", "memory", "--dirs", "1,0"}); err == nil {
		t.Fatal("expected direction parse error")
	}
	if err := run(ctx, []string{"eval", "--store", "memory", "--dirs", "1,0,0", "--mode", "test"}); err == nil {
		t.Fatal("expected mode error")
	}
	if err := run(ctx, []string{"eval", "--store", "memory", "--id", "missing", "--dirs", "1,0,0"}); err == nil {
		t.Fatal("expected missing checkpoint error")
	}
	if err := run(ctx, []string{"eval", "--store", "memory", "--log-level", "chatty"}); err == nil {
		t.Fatal("expected log level error")
	}
}

func TestPanoramaCommandWritesPNG(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env.png")
	if _, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"panorama",
			"--store", "memory",
			"--init-seed", "4",
			"--width", "16",
			"--height", "8",
			"--out", out,
		})
	}); err != nil {
		t.Fatalf("panorama: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open png: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
		t.Fatalf("unexpected size: %v", img.Bounds())
	}

	if err := run(context.Background(), []string{"panorama", "--store", "memory"}); err == nil {
		t.Fatal("expected missing --out error")
	}
}

func TestRegistryCommand(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"registry", "--store", "memory"})
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	var reg map[string][]string
	if err := json.Unmarshal([]byte(out), &reg); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if len(reg["backgrounds"]) < 2 || len(reg["encodings"]) == 0 || len(reg["networks"]) == 0 || len(reg["activations"]) == 0 {
		t.Fatalf("unexpected registry: %v", reg)
	}
}

func TestCheckpointsAndDeleteCommandsMemory(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"checkpoints", "--store", "memory", "--json"})
	})
	if err != nil {
		t.Fatalf("checkpoints: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty list, got %q", out)
	}
	if err := run(context.Background(), []string{"delete", "--store", "memory"}); err == nil {
		t.Fatal("expected missing --id error")
	}
	if err := run(context.Background(), []string{"delete", "--store", "memory", "--id", "missing"}); err == nil {
		t.Fatal("expected not found error")
	}
}

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		_ = r.Close()
		return "", err
	}
	_ = r.Close()
	return buf.String(), runErr
}

func TestCreateCommandReadsNestedNetworkTable(t *testing.T) {
	path := writeTOML(t, `
seed = 2

[config]
random_aug = true

[config.mlp_network_config]
otype = "VanillaMLP"
activation = "ReLU"
n_neurons = 32
n_hidden_layers = 2
`)
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"create", "--store", "memory", "--config", path, "--json"})
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var item checkpointItem
	if err := json.Unmarshal([]byte(out), &item); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	// Degree-3 harmonics (9) -> 32 -> 32 -> 3.
	if want := 9*32 + 32*32 + 32*3; item.ParameterCount != want {
		t.Fatalf("unexpected parameter count: got=%d want=%d", item.ParameterCount, want)
	}
}
