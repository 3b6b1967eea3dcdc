package store

import (
	"encoding/json"
	"fmt"
	"os"

	"procam-calibration/internal/calib"
)

type priorFile struct {
	Camera *struct {
		P          []float64 `json:"P"`
		Distortion []float64 `json:"distortion"`
	} `json:"camera"`
}

// LoadCameraPrior reads known camera intrinsics from
// {"camera": {"P": [9 values, row major], "distortion": [...]}}. The
// distortion list may hold 4, 5, 8, 12 or 14 coefficients.
func LoadCameraPrior(path string) (*calib.Camera, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading camera parameters: %w", err)
	}
	var f priorFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: camera parameters: %v", ErrMalformed, err)
	}
	if f.Camera == nil {
		return nil, fmt.Errorf("%w: camera parameters: missing \"camera\"", ErrMalformed)
	}
	if len(f.Camera.P) != 9 {
		return nil, fmt.Errorf("%w: camera parameters: P has %d values, want 9", ErrMalformed, len(f.Camera.P))
	}
	switch len(f.Camera.Distortion) {
	case 4, 5, 8, 12, 14:
	default:
		return nil, fmt.Errorf("%w: camera parameters: distortion has %d values", ErrMalformed, len(f.Camera.Distortion))
	}

	var k calib.Mat3
	copy(k[:], f.Camera.P)
	intr := calib.IntrinsicsFromMatrix(k)
	if intr.Fx <= 0 || intr.Fy <= 0 {
		return nil, fmt.Errorf("%w: camera parameters: focal lengths must be positive", ErrMalformed)
	}
	return &calib.Camera{K: intr, Dist: append([]float64(nil), f.Camera.Distortion...)}, nil
}
