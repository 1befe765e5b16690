// Package config loads the typed model and template configuration.
//
// Configuration problems are startup-class failures: a malformed file or a
// missing field aborts the run before any image is touched.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrConfiguration marks malformed model or template metadata.
var ErrConfiguration = errors.New("configuration error")

// ModelConfig enumerates everything the pipeline needs to know about one
// detector: where the weights and class map live, the trained input
// resolution, and the tiling parameters the training data was generated with.
type ModelConfig struct {
	Name               string  `json:"name"`
	WeightsPath        string  `json:"weights_path"`
	ClassesPath        string  `json:"classes_path"`
	InputWidth         int     `json:"input_width"`
	InputHeight        int     `json:"input_height"`
	TileSizeProportion float64 `json:"tile_size_proportion"`
	HorzOverlap        float64 `json:"horz_overlap_proportion"`
	VertOverlap        float64 `json:"vert_overlap_proportion"`
	ConfThreshold      float64 `json:"conf_threshold"`
	NMSIoUThreshold    float64 `json:"nms_iou_threshold"`
	// Pose marks single-keypoint pose models (systolic, diastolic,
	// heart rate markers); the rest are plain box detectors.
	Pose bool `json:"pose"`
}

// Config is the root configuration record.
type Config struct {
	Models    map[string]ModelConfig `json:"models"`
	Templates map[string]Template    `json:"templates"`
	PoolSize  int                    `json:"pool_size"`
	// RuntimeLibPath optionally overrides the ONNX Runtime shared
	// library location; when empty the standard locations are probed.
	RuntimeLibPath string `json:"runtime_lib_path"`
	// Addr is the HTTP listen address.
	Addr string `json:"addr"`
	// ExportPath optionally enables training-feedback export: every
	// successfully rectified side is appended to this TFRecord file,
	// with the label map written next to it.
	ExportPath string `json:"export_path"`
}

// Load reads and validates the root configuration file. Relative weight and
// class paths are resolved against the config file's directory.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfiguration, path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfiguration, path, err)
	}
	base := filepath.Dir(path)
	for name, m := range cfg.Models {
		if m.Name == "" {
			m.Name = name
		}
		if m.WeightsPath != "" && !filepath.IsAbs(m.WeightsPath) {
			m.WeightsPath = filepath.Join(base, m.WeightsPath)
		}
		if m.ClassesPath != "" && !filepath.IsAbs(m.ClassesPath) {
			m.ClassesPath = filepath.Join(base, m.ClassesPath)
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		cfg.Models[name] = m
	}
	for name, tpl := range cfg.Templates {
		if tpl.Name == "" {
			tpl.Name = name
			cfg.Templates[name] = tpl
		}
		if err := tpl.validate(); err != nil {
			return nil, err
		}
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	return &cfg, nil
}

func (m ModelConfig) validate() error {
	switch {
	case m.WeightsPath == "":
		return fmt.Errorf("%w: model %q has no weights_path", ErrConfiguration, m.Name)
	case m.InputWidth <= 0 || m.InputHeight <= 0:
		return fmt.Errorf("%w: model %q has invalid input size %dx%d",
			ErrConfiguration, m.Name, m.InputWidth, m.InputHeight)
	case m.TileSizeProportion <= 0 || m.TileSizeProportion > 1:
		return fmt.Errorf("%w: model %q tile_size_proportion %v is outside (0, 1]",
			ErrConfiguration, m.Name, m.TileSizeProportion)
	case m.HorzOverlap < 0 || m.HorzOverlap >= 1 || m.VertOverlap < 0 || m.VertOverlap >= 1:
		return fmt.Errorf("%w: model %q overlap proportions (%v, %v) are outside [0, 1)",
			ErrConfiguration, m.Name, m.HorzOverlap, m.VertOverlap)
	case m.ConfThreshold < 0 || m.ConfThreshold > 1:
		return fmt.Errorf("%w: model %q conf_threshold %v is outside [0, 1]",
			ErrConfiguration, m.Name, m.ConfThreshold)
	case m.NMSIoUThreshold < 0 || m.NMSIoUThreshold > 1:
		return fmt.Errorf("%w: model %q nms_iou_threshold %v is outside [0, 1]",
			ErrConfiguration, m.Name, m.NMSIoUThreshold)
	}
	return nil
}

// LoadClasses reads a class-id to category-name map from a JSON file keyed
// by stringified numeric ids, matching the model metadata files emitted by
// the training pipeline.
func LoadClasses(path string) (map[int]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading classes %s: %v", ErrConfiguration, path, err)
	}
	var byName map[string]string
	if err := json.Unmarshal(raw, &byName); err != nil {
		return nil, fmt.Errorf("%w: parsing classes %s: %v", ErrConfiguration, path, err)
	}
	classes := make(map[int]string, len(byName))
	for k, v := range byName {
		var id int
		if _, err := fmt.Sscanf(k, "%d", &id); err != nil {
			return nil, fmt.Errorf("%w: class id %q in %s is not numeric", ErrConfiguration, k, path)
		}
		classes[id] = v
	}
	return classes, nil
}
