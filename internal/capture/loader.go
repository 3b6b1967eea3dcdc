package capture

import (
	"fmt"
	"image"

	"procam-calibration/internal/graycode"
	"procam-calibration/internal/logger"
	"procam-calibration/internal/opencv/conversion"
	"procam-calibration/internal/opencv/memory"
	"procam-calibration/internal/pattern"
)

// Session holds one capture's frames in memory until Release is called.
type Session struct {
	Name   string
	Dir    string
	Files  []string
	Frames graycode.Frames

	release func()
}

// Release drops the frame buffers and returns their reservation. Safe to
// call more than once.
func (s *Session) Release() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
	s.Frames = graycode.Frames{}
}

type Loader struct {
	plan   pattern.Plan
	memory *memory.Manager
	logger logger.Logger
	shape  image.Point
}

func NewLoader(plan pattern.Plan, mgr *memory.Manager, log logger.Logger) *Loader {
	return &Loader{plan: plan, memory: mgr, logger: log}
}

// Shape is the camera image size fixed by the first image loaded, or the
// zero point before any load.
func (l *Loader) Shape() image.Point {
	return l.shape
}

// Load reads a capture directory. Extra files beyond the plan's image count
// are ignored with a warning; fewer files fail with ErrMissingInput.
func (l *Loader) Load(dir Directory) (*Session, error) {
	expected := l.plan.ImageCount()
	files := dir.Files
	if len(files) < expected {
		return nil, fmt.Errorf("%w: %s has %d images, expected %d",
			ErrMissingInput, dir.Name, len(files), expected)
	}
	if len(files) > expected {
		l.logger.Warning("CaptureLoader", "more images than expected, using the first ones", map[string]interface{}{
			"session":  dir.Name,
			"expected": expected,
			"found":    len(files),
		})
		files = files[:expected]
	}

	images := make([]*image.Gray, 0, len(files))
	reserved := false
	fail := func(err error) (*Session, error) {
		if reserved {
			l.memory.Release(dir.Name)
		}
		return nil, err
	}

	for _, path := range files {
		img, err := conversion.ReadGrayImage(path, l.memory, dir.Name)
		if err != nil {
			return fail(fmt.Errorf("%w: %s: %v", ErrMissingInput, dir.Name, err))
		}
		size := img.Bounds().Size()
		if l.shape == (image.Point{}) {
			l.shape = size
		}
		if size != l.shape {
			return fail(fmt.Errorf("%w: %s is %dx%d, captures are %dx%d",
				ErrMissingInput, path, size.X, size.Y, l.shape.X, l.shape.Y))
		}
		if !reserved {
			if err := l.memory.Reserve(dir.Name, int64(expected*size.X*size.Y)); err != nil {
				return fail(fmt.Errorf("%w: %s: %v", ErrMissingInput, dir.Name, err))
			}
			reserved = true
		}
		images = append(images, img)
	}

	n := len(images)
	session := &Session{
		Name:  dir.Name,
		Dir:   dir.Path,
		Files: files,
		Frames: graycode.Frames{
			Patterns: images[:n-2],
			White:    images[n-2],
			Black:    images[n-1],
		},
		release: func() { l.memory.Release(dir.Name) },
	}

	l.logger.Debug("CaptureLoader", "session loaded", map[string]interface{}{
		"session": dir.Name,
		"images":  n,
		"width":   l.shape.X,
		"height":  l.shape.Y,
	})
	return session, nil
}
