package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfiguration marks geometry, threshold or solver settings that
// cannot produce a calibration. It is raised before any image is read.
var ErrInvalidConfiguration = errors.New("invalid configuration")

const DefaultOutputPath = "calibration_result_optimized.xml"

type Config struct {
	Projector      ProjectorConfig      `yaml:"projector"`
	Chessboard     ChessboardConfig     `yaml:"chessboard"`
	GraycodeStep   int                  `yaml:"graycode_step"`
	Decoder        DecoderConfig        `yaml:"decoder"`
	Detector       DetectorConfig       `yaml:"detector"`
	Correspondence CorrespondenceConfig `yaml:"correspondence"`
	Solver         SolverConfig         `yaml:"solver"`
	Stereo         StereoConfig         `yaml:"stereo"`
	Capture        CaptureConfig        `yaml:"capture"`
	PatternQuality PatternQuality       `yaml:"pattern_quality"`
	CameraParams   string               `yaml:"camera_params,omitempty"`
	OutputPath     string               `yaml:"output_path"`
	PlotPath       string               `yaml:"plot_path,omitempty"`
	Debug          bool                 `yaml:"debug"`
}

type ProjectorConfig struct {
	Height int `yaml:"height"`
	Width  int `yaml:"width"`
}

// ChessboardConfig counts interior corners, not squares.
type ChessboardConfig struct {
	Vertical   int     `yaml:"vertical"`
	Horizontal int     `yaml:"horizontal"`
	BlockSize  float64 `yaml:"block_size"`
}

type DecoderConfig struct {
	BlackThreshold    int `yaml:"black_threshold"`
	WhiteThreshold    int `yaml:"white_threshold"`
	NeighborTolerance int `yaml:"neighbor_tolerance"`
}

type DetectorConfig struct {
	SubPixWindow     int     `yaml:"subpix_window"`
	SubPixIterations int     `yaml:"subpix_iterations"`
	SubPixEpsilon    float64 `yaml:"subpix_epsilon"`
	ClaheClipLimit   float64 `yaml:"clahe_clip_limit"`
	ClaheTileSize    int     `yaml:"clahe_tile_size"`
	BlurKernel       int     `yaml:"blur_kernel"`
	MorphKernel      int     `yaml:"morph_kernel"`
}

type CorrespondenceConfig struct {
	PatchRadiusMin     int     `yaml:"patch_radius_min"`
	PatchRadiusDivisor int     `yaml:"patch_radius_divisor"`
	MinPatchPoints     int     `yaml:"min_patch_points"`
	RansacThreshold    float64 `yaml:"ransac_threshold"`
	RansacIterations   int     `yaml:"ransac_iterations"`
	RansacConfidence   float64 `yaml:"ransac_confidence"`
	DegenerateEpsilon  float64 `yaml:"degenerate_epsilon"`
	MinCorrespondences int     `yaml:"min_correspondences"`
}

type SolverConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	Epsilon       float64 `yaml:"epsilon"`
}

// StereoConfig controls which parameters the joint refinement may move.
// Camera intrinsics are always held at the camera stage result.
type StereoConfig struct {
	FixProjectorIntrinsics bool `yaml:"fix_projector_intrinsics"`
	SameFocalLength        bool `yaml:"same_focal_length"`
}

type CaptureConfig struct {
	Root         string  `yaml:"root"`
	DirPattern   string  `yaml:"dir_pattern"`
	FilePrefix   string  `yaml:"file_prefix"`
	MemoryLimit  int64   `yaml:"memory_limit"`
	MinContrast  float64 `yaml:"min_contrast"`
	PatternDir   string  `yaml:"pattern_dir"`
	PatternFiles string  `yaml:"pattern_files"`
}

// PatternQuality holds the thresholds used when checking a generated or
// projected pattern set for stripe content.
type PatternQuality struct {
	StdThreshold       float64 `yaml:"std_threshold"`
	EdgeThreshold      float64 `yaml:"edge_threshold"`
	GradMagThreshold   float64 `yaml:"grad_mag_threshold"`
	GradRatioThreshold float64 `yaml:"grad_ratio_threshold"`
	SobelKernel        int     `yaml:"sobel_kernel"`
	CannyLow           float32 `yaml:"canny_low"`
	CannyHigh          float32 `yaml:"canny_high"`
}

func Default() *Config {
	return &Config{
		GraycodeStep: 1,
		Decoder: DecoderConfig{
			BlackThreshold:    40,
			WhiteThreshold:    5,
			NeighborTolerance: 2,
		},
		Detector: DetectorConfig{
			SubPixWindow:     11,
			SubPixIterations: 30,
			SubPixEpsilon:    0.1,
			ClaheClipLimit:   2.0,
			ClaheTileSize:    8,
			BlurKernel:       3,
			MorphKernel:      3,
		},
		Correspondence: CorrespondenceConfig{
			PatchRadiusMin:     3,
			PatchRadiusDivisor: 180,
			MinPatchPoints:     4,
			RansacThreshold:    1.0,
			RansacIterations:   2000,
			RansacConfidence:   0.995,
			DegenerateEpsilon:  1e-8,
			MinCorrespondences: 6,
		},
		Solver: SolverConfig{
			MaxIterations: 100,
			Epsilon:       1e-6,
		},
		Stereo: StereoConfig{
			FixProjectorIntrinsics: true,
			SameFocalLength:        true,
		},
		Capture: CaptureConfig{
			Root:         ".",
			DirPattern:   "capture_*",
			FilePrefix:   "graycode_",
			MemoryLimit:  2 * 1024 * 1024 * 1024,
			MinContrast:  20,
			PatternDir:   "patterns",
			PatternFiles: "pattern_",
		},
		PatternQuality: PatternQuality{
			StdThreshold:       2.0,
			EdgeThreshold:      0.0002,
			GradMagThreshold:   8.0,
			GradRatioThreshold: 0.001,
			SobelKernel:        3,
			CannyLow:           100,
			CannyHigh:          200,
		},
		OutputPath: DefaultOutputPath,
	}
}

// Load reads a YAML file on top of the defaults. Keys missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks everything a run needs before touching the capture
// directories. All returned errors wrap ErrInvalidConfiguration.
func (c *Config) Validate() error {
	if c.Projector.Height <= 0 || c.Projector.Width <= 0 {
		return invalid("projector resolution must be positive, got %dx%d", c.Projector.Width, c.Projector.Height)
	}
	if c.GraycodeStep <= 0 {
		return invalid("graycode step must be positive, got %d", c.GraycodeStep)
	}
	if c.Chessboard.Vertical < 2 || c.Chessboard.Horizontal < 2 {
		return invalid("chessboard needs at least 2x2 interior corners, got %dx%d",
			c.Chessboard.Vertical, c.Chessboard.Horizontal)
	}
	if c.Chessboard.BlockSize <= 0 {
		return invalid("chessboard block size must be positive, got %g", c.Chessboard.BlockSize)
	}
	if c.Decoder.BlackThreshold < 0 || c.Decoder.WhiteThreshold < 0 {
		return invalid("decoder thresholds must be non-negative")
	}
	if c.Decoder.NeighborTolerance < 0 {
		return invalid("neighbor tolerance must be non-negative")
	}
	if c.Detector.SubPixWindow <= 0 || c.Detector.SubPixIterations <= 0 {
		return invalid("sub-pixel window and iterations must be positive")
	}
	if c.Detector.BlurKernel <= 0 || c.Detector.BlurKernel%2 == 0 {
		return invalid("blur kernel must be odd and positive, got %d", c.Detector.BlurKernel)
	}
	if c.Detector.MorphKernel <= 0 || c.Detector.ClaheTileSize <= 0 {
		return invalid("morphology kernel and CLAHE tile size must be positive")
	}

	corr := c.Correspondence
	if corr.PatchRadiusMin <= 0 || corr.PatchRadiusDivisor <= 0 {
		return invalid("patch radius settings must be positive")
	}
	if corr.MinPatchPoints < 4 {
		return invalid("a homography needs at least 4 patch points, got %d", corr.MinPatchPoints)
	}
	if corr.RansacThreshold <= 0 || corr.RansacIterations <= 0 {
		return invalid("RANSAC threshold and iterations must be positive")
	}
	if corr.RansacConfidence <= 0 || corr.RansacConfidence >= 1 {
		return invalid("RANSAC confidence must be in (0,1), got %g", corr.RansacConfidence)
	}
	if corr.MinCorrespondences < 4 {
		return invalid("min correspondences must be at least 4, got %d", corr.MinCorrespondences)
	}

	if c.Solver.MaxIterations <= 0 || c.Solver.Epsilon <= 0 {
		return invalid("solver criteria must be positive")
	}
	if c.Capture.DirPattern == "" || c.Capture.FilePrefix == "" {
		return invalid("capture directory pattern and file prefix are required")
	}
	if c.OutputPath == "" {
		return invalid("output path is required")
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
