package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `{
	"pool_size": 2,
	"models": {
		"digits": {
			"weights_path": "weights/digits.onnx",
			"classes_path": "weights/digits_classes.json",
			"input_width": 640,
			"input_height": 640,
			"tile_size_proportion": 0.25,
			"horz_overlap_proportion": 0.5,
			"vert_overlap_proportion": 0.5,
			"conf_threshold": 0.5,
			"nms_iou_threshold": 0.5
		}
	},
	"templates": {
		"intraoperative": {
			"canvas_width": 3300,
			"canvas_height": 2550,
			"corner_names": ["anesthesia_start", "safety_checklist", "lateral", "units"],
			"landmarks": [
				{"category": "anesthesia_start", "left": 0, "top": 0, "right": 10, "bottom": 10},
				{"category": "safety_checklist", "left": 3290, "top": 0, "right": 3300, "bottom": 10},
				{"category": "lateral", "left": 0, "top": 2540, "right": 10, "bottom": 2550},
				{"category": "units", "left": 3290, "top": 2540, "right": 3300, "bottom": 2550}
			]
		}
	}
}`

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Join(filepath.Dir(path), "weights", "digits.onnx")
	if got := cfg.Models["digits"].WeightsPath; got != want {
		t.Errorf("weights path = %q, want %q", got, want)
	}
	if cfg.Models["digits"].Name != "digits" {
		t.Errorf("model name not defaulted: %q", cfg.Models["digits"].Name)
	}
	if cfg.Templates["intraoperative"].Name != "intraoperative" {
		t.Errorf("template name not defaulted: %q", cfg.Templates["intraoperative"].Name)
	}
	if cfg.Addr != "127.0.0.1:8080" {
		t.Errorf("addr not defaulted: %q", cfg.Addr)
	}
}

func TestLoadRejectsBadModel(t *testing.T) {
	cases := map[string]string{
		"no weights":  `{"models": {"m": {"input_width": 640, "input_height": 640, "tile_size_proportion": 0.25}}}`,
		"bad tiling":  `{"models": {"m": {"weights_path": "m.onnx", "input_width": 640, "input_height": 640, "tile_size_proportion": 1.5}}}`,
		"bad overlap": `{"models": {"m": {"weights_path": "m.onnx", "input_width": 640, "input_height": 640, "tile_size_proportion": 0.25, "horz_overlap_proportion": 1.0}}}`,
		"bad conf":    `{"models": {"m": {"weights_path": "m.onnx", "input_width": 640, "input_height": 640, "tile_size_proportion": 0.25, "conf_threshold": 2}}}`,
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: err = %v, want ErrConfiguration", name, err)
		}
	}
}

func TestLoadRejectsBadTemplate(t *testing.T) {
	body := `{"templates": {"t": {"canvas_width": 100, "canvas_height": 100,
		"corner_names": ["a", "b", "c", "d"],
		"landmarks": [{"category": "a", "left": 0, "top": 0, "right": 5, "bottom": 5}]}}}`
	_, err := Load(writeConfig(t, body))
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("corner without landmark: err = %v, want ErrConfiguration", err)
	}
}

func TestLoadClasses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classes.json")
	if err := os.WriteFile(path, []byte(`{"0": "systolic", "1": "diastolic"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	classes, err := LoadClasses(path)
	if err != nil {
		t.Fatalf("LoadClasses: %v", err)
	}
	if classes[0] != "systolic" || classes[1] != "diastolic" {
		t.Errorf("classes = %v", classes)
	}
}

func TestLoadClassesRejectsNonNumericIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classes.json")
	if err := os.WriteFile(path, []byte(`{"zero": "systolic"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClasses(path); !errors.Is(err, ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}
