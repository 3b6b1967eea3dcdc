package conversion

import (
	"fmt"
	"image"

	"procam-calibration/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// ReadGray loads an image file as 8-bit grayscale. Colour files are
// converted; tracker may be nil.
func ReadGray(path string, tracker safe.MemoryTracker, tag string) (*safe.Mat, error) {
	mat := gocv.IMRead(path, gocv.IMReadAnyColor)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("failed to read image %s", path)
	}
	defer mat.Close()

	loaded, err := safe.NewMatFromMatWithTracker(mat, tracker, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap %s: %w", path, err)
	}
	if loaded.Channels() == 1 {
		return loaded, nil
	}
	defer loaded.Close()

	return ConvertToGrayscale(loaded)
}

// ReadGrayImage loads path straight into a Go image, releasing the Mat.
func ReadGrayImage(path string, tracker safe.MemoryTracker, tag string) (*image.Gray, error) {
	mat, err := ReadGray(path, tracker, tag)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	return MatToGray(mat)
}

func WriteGray(path string, img *image.Gray) error {
	mat, err := GrayToMat(img)
	if err != nil {
		return err
	}
	defer mat.Close()

	if ok := gocv.IMWrite(path, mat.GetMat()); !ok {
		return fmt.Errorf("failed to write image %s", path)
	}
	return nil
}
