package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/image-annotator/pkg/cropper"
	"github.com/menta2k/image-annotator/pkg/geometry"
)

// Config holds the application configuration
type Config struct {
	Layout     LayoutConfig     `json:"layout" yaml:"layout"`
	Annotation AnnotationConfig `json:"annotation" yaml:"annotation"`
	Labels     LabelsConfig     `json:"labels" yaml:"labels"`
	Detection  DetectionConfig  `json:"detection" yaml:"detection"`
	Output     OutputConfig     `json:"output" yaml:"output"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// LayoutConfig controls how images are fitted to the viewport
type LayoutConfig struct {
	// Policy is "fit" (contain, never upscale) or "match" (rendered size)
	Policy         string `json:"policy" yaml:"policy"`
	Precision      int    `json:"precision" yaml:"precision"`
	ViewportWidth  int    `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int    `json:"viewport_height" yaml:"viewport_height"`
}

// AnnotationConfig holds defaults for new regions
type AnnotationConfig struct {
	DefaultWidth   float64 `json:"default_width" yaml:"default_width"`
	DefaultHeight  float64 `json:"default_height" yaml:"default_height"`
	DefaultLabel   string  `json:"default_label" yaml:"default_label"`
	SelectOnImport bool    `json:"select_on_import" yaml:"select_on_import"`
}

// LabelsConfig locates the label table
type LabelsConfig struct {
	File       string `json:"file" yaml:"file"`
	CodeColumn string `json:"code_column" yaml:"code_column"`
	NameColumn string `json:"name_column" yaml:"name_column"`
}

// DetectionConfig holds configuration for region suggestions
type DetectionConfig struct {
	// Backend is "", "ollama", "llamacpp" or "saliency"; empty disables suggestions
	Backend       string  `json:"backend" yaml:"backend"`
	URL           string  `json:"url" yaml:"url"`
	Model         string  `json:"model" yaml:"model"`
	Prompt        string  `json:"prompt" yaml:"prompt"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
	MaxRegions    int     `json:"max_regions" yaml:"max_regions"`
	SendMaxDim    int     `json:"send_max_dim" yaml:"send_max_dim"`
	SendQuality   int     `json:"send_quality" yaml:"send_quality"`
	JSONMode      bool    `json:"json_mode" yaml:"json_mode"`
	SkipAnnotated bool    `json:"skip_annotated" yaml:"skip_annotated"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	OutputDir      string `json:"output_dir" yaml:"output_dir"`
	WriteAll       bool   `json:"write_all" yaml:"write_all"`
	AllFilename    string `json:"all_filename" yaml:"all_filename"`
	Overlays       bool   `json:"overlays" yaml:"overlays"`
	OverlayFormat  string `json:"overlay_format" yaml:"overlay_format"`
	OverlayQuality int    `json:"overlay_quality" yaml:"overlay_quality"`
	OverlaySuffix  string `json:"overlay_suffix" yaml:"overlay_suffix"`

	// Crops writes each region as its own image under crops/<label>/
	Crops       bool    `json:"crops" yaml:"crops"`
	CropPadding float64 `json:"crop_padding" yaml:"crop_padding"`
	CropAspect  string  `json:"crop_aspect" yaml:"crop_aspect"`
	CropMaxSize int     `json:"crop_max_size" yaml:"crop_max_size"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level   string `json:"level" yaml:"level"`
	Verbose bool   `json:"verbose" yaml:"verbose"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Layout: LayoutConfig{
			Policy:         geometry.FitContain.String(),
			Precision:      geometry.DefaultPrecision,
			ViewportWidth:  1280,
			ViewportHeight: 720,
		},
		Annotation: AnnotationConfig{
			DefaultWidth:  100,
			DefaultHeight: 100,
			DefaultLabel:  "label",
		},
		Labels: LabelsConfig{
			CodeColumn: "料理コード",
			NameColumn: "お客様向け名称",
		},
		Detection: DetectionConfig{
			MinConfidence: 0.3,
			MaxRegions:    20,
			SendMaxDim:    1024,
			SendQuality:   90,
			SkipAnnotated: true,
		},
		Output: OutputConfig{
			OutputDir:      "./output",
			WriteAll:       true,
			AllFilename:    "all.json",
			OverlayFormat:  "jpg",
			OverlayQuality: 90,
			OverlaySuffix:  "_overlay",
			CropPadding:    0.1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a YAML (.yaml/.yml) or JSON file.
// Fields absent from the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML or JSON file, chosen by extension
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := geometry.ParsePolicy(c.Layout.Policy); err != nil {
		return fmt.Errorf("layout.policy: %w", err)
	}

	if c.Layout.Precision < 1 {
		return fmt.Errorf("layout.precision must be positive")
	}

	if c.Layout.ViewportWidth < 1 || c.Layout.ViewportHeight < 1 {
		return fmt.Errorf("layout.viewport_width and layout.viewport_height must be positive")
	}

	if c.Annotation.DefaultWidth <= 0 || c.Annotation.DefaultHeight <= 0 {
		return fmt.Errorf("annotation.default_width and annotation.default_height must be positive")
	}

	switch c.Detection.Backend {
	case "", "ollama", "llamacpp", "saliency":
	default:
		return fmt.Errorf("detection.backend must be one of ollama, llamacpp, saliency")
	}

	if (c.Detection.Backend == "ollama" || c.Detection.Backend == "llamacpp") && c.Detection.Model == "" {
		return fmt.Errorf("detection.model is required for the %s backend", c.Detection.Backend)
	}

	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		return fmt.Errorf("detection.min_confidence must be between 0 and 1")
	}

	if c.Detection.MaxRegions < 0 {
		return fmt.Errorf("detection.max_regions cannot be negative")
	}

	if c.Detection.SendQuality < 1 || c.Detection.SendQuality > 100 {
		return fmt.Errorf("detection.send_quality must be between 1 and 100")
	}

	switch strings.ToLower(c.Output.OverlayFormat) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("output.overlay_format must be jpg, png or webp")
	}

	if c.Output.OverlayQuality < 1 || c.Output.OverlayQuality > 100 {
		return fmt.Errorf("output.overlay_quality must be between 1 and 100")
	}

	if c.Output.CropPadding < 0 {
		return fmt.Errorf("output.crop_padding cannot be negative")
	}

	if _, err := cropper.ParseAspectRatio(c.Output.CropAspect); err != nil {
		return fmt.Errorf("output.crop_aspect: %w", err)
	}

	if c.Output.CropMaxSize < 0 {
		return fmt.Errorf("output.crop_max_size cannot be negative")
	}

	if c.Output.WriteAll && c.Output.AllFilename == "" {
		return fmt.Errorf("output.all_filename cannot be empty when output.write_all is set")
	}

	return nil
}

// LayoutPolicy returns the parsed layout configuration
func (c *Config) LayoutPolicy() geometry.Layout {
	policy, _ := geometry.ParsePolicy(c.Layout.Policy)
	return geometry.Layout{Policy: policy, Precision: float64(c.Layout.Precision)}
}

// CropConfig returns the region crop settings
func (c *Config) CropConfig() cropper.CropConfig {
	aspect, _ := cropper.ParseAspectRatio(c.Output.CropAspect)
	return cropper.CropConfig{
		PaddingRatio: c.Output.CropPadding,
		AspectRatio:  aspect,
		MaxSize:      c.Output.CropMaxSize,
	}
}

// Viewport returns the configured container size
func (c *Config) Viewport() geometry.Size {
	return geometry.Size{Width: float64(c.Layout.ViewportWidth), Height: float64(c.Layout.ViewportHeight)}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "image-annotator", "config.yaml")
}

func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
