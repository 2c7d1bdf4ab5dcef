package stage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stage.json")
	cfg := &Config{
		Port: "/dev/ttyUSB0",
		Name: "bench",
		Axes: [NumChannels]AxisConfig{
			{Stage: "ZFM2020", Reversed: true},
		},
	}
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if loaded.Port != cfg.Port || loaded.Name != cfg.Name {
		t.Errorf("loaded %+v, want %+v", loaded, cfg)
	}
	if loaded.Axes[0] != cfg.Axes[0] || loaded.Axes[1] != cfg.Axes[1] {
		t.Errorf("axes %+v, want %+v", loaded.Axes, cfg.Axes)
	}
}

func TestLoadConfigFrom_UnknownStage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stage.json")
	data := []byte(`{"port": "/dev/ttyUSB0", "axes": [{"stage": "ZFM9999"}, {}, {}]}`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFrom(path); !errors.Is(err, ErrConfiguration) {
		t.Errorf("got %v, want ErrConfiguration", err)
	}
}

func TestLoadConfigFrom_Missing(t *testing.T) {
	if _, err := LoadConfigFrom(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
