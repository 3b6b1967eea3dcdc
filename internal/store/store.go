package store

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"procam-calibration/internal/calib"

	"github.com/golang/geo/r3"
)

var (
	// ErrUnknownFormat is returned for result paths whose extension is not
	// .xml, .yml or .yaml.
	ErrUnknownFormat = errors.New("unknown result format")
	// ErrMalformed marks a result file that parses but is missing a key or
	// holds a matrix of the wrong shape.
	ErrMalformed = errors.New("malformed result file")
)

type Format int

const (
	FormatXML Format = iota
	FormatYAML
)

func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return FormatXML, nil
	case ".yml", ".yaml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, path)
	}
}

// matrix is a row-major double matrix as FileStorage writes it.
type matrix struct {
	Rows, Cols int
	Data       []float64
}

func column(vals ...float64) matrix {
	return matrix{Rows: len(vals), Cols: 1, Data: vals}
}

func row(vals []float64) matrix {
	return matrix{Rows: 1, Cols: len(vals), Data: append([]float64(nil), vals...)}
}

func (m matrix) valid() bool {
	return m.Rows > 0 && m.Cols > 0 && len(m.Data) == m.Rows*m.Cols
}

// document is the flat key set shared by both encodings.
type document struct {
	ImgShape           matrix
	ProjShape          *matrix
	RMS                float64
	CamInt             matrix
	CamDist            matrix
	ProjInt            matrix
	ProjDist           matrix
	Rotation           matrix
	Translation        matrix
	SuccessfulCaptures int
}

func fromResult(res *calib.Result) document {
	k := res.Camera.K.Matrix()
	pk := res.Projector.K.Matrix()
	doc := document{
		ImgShape:           column(float64(res.CameraSize.Y), float64(res.CameraSize.X)),
		RMS:                res.RMS,
		CamInt:             matrix{Rows: 3, Cols: 3, Data: k[:]},
		CamDist:            row(res.Camera.Dist),
		ProjInt:            matrix{Rows: 3, Cols: 3, Data: pk[:]},
		ProjDist:           row(res.Projector.Dist),
		Rotation:           matrix{Rows: 3, Cols: 3, Data: append([]float64(nil), res.R[:]...)},
		Translation:        column(res.T.X, res.T.Y, res.T.Z),
		SuccessfulCaptures: res.Sessions,
	}
	if res.ProjectorSize != (image.Point{}) {
		ps := column(float64(res.ProjectorSize.Y), float64(res.ProjectorSize.X))
		doc.ProjShape = &ps
	}
	return doc
}

func (d document) result() (*calib.Result, error) {
	check := func(name string, m matrix, rows, cols int) error {
		if !m.valid() {
			return fmt.Errorf("%w: %s is missing or empty", ErrMalformed, name)
		}
		if (rows > 0 && m.Rows*m.Cols != rows*cols) || (rows == 0 && m.Rows != 1 && m.Cols != 1) {
			return fmt.Errorf("%w: %s is %dx%d", ErrMalformed, name, m.Rows, m.Cols)
		}
		return nil
	}
	for _, c := range []struct {
		name       string
		m          matrix
		rows, cols int
	}{
		{"img_shape", d.ImgShape, 2, 1},
		{"cam_int", d.CamInt, 3, 3},
		{"cam_dist", d.CamDist, 0, 0},
		{"proj_int", d.ProjInt, 3, 3},
		{"proj_dist", d.ProjDist, 0, 0},
		{"rotation", d.Rotation, 3, 3},
		{"translation", d.Translation, 3, 1},
	} {
		if err := check(c.name, c.m, c.rows, c.cols); err != nil {
			return nil, err
		}
	}

	var rot, k, pk calib.Mat3
	copy(rot[:], d.Rotation.Data)
	copy(k[:], d.CamInt.Data)
	copy(pk[:], d.ProjInt.Data)
	res := &calib.Result{
		CameraSize: image.Pt(int(d.ImgShape.Data[1]), int(d.ImgShape.Data[0])),
		RMS:        d.RMS,
		Camera:     calib.Camera{K: calib.IntrinsicsFromMatrix(k), Dist: append([]float64(nil), d.CamDist.Data...)},
		Projector:  calib.Camera{K: calib.IntrinsicsFromMatrix(pk), Dist: append([]float64(nil), d.ProjDist.Data...)},
		R:          rot,
		T:          r3.Vector{X: d.Translation.Data[0], Y: d.Translation.Data[1], Z: d.Translation.Data[2]},
		Sessions:   d.SuccessfulCaptures,
	}
	if d.ProjShape != nil {
		if err := check("proj_shape", *d.ProjShape, 2, 1); err != nil {
			return nil, err
		}
		res.ProjectorSize = image.Pt(int(d.ProjShape.Data[1]), int(d.ProjShape.Data[0]))
	}
	return res, nil
}

// Save writes the persisted part of res. The extension of path picks the
// encoding.
func Save(res *calib.Result, path string) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	doc := fromResult(res)

	var data []byte
	switch format {
	case FormatXML:
		data, err = encodeXML(doc)
	case FormatYAML:
		data, err = encodeYAML(doc)
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing result file: %w", err)
	}
	return nil
}

// Load reads a result written by Save or by OpenCV FileStorage with the
// same keys. Stage summaries and residuals are not persisted.
func Load(path string) (*calib.Result, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result file: %w", err)
	}

	var doc document
	switch format {
	case FormatXML:
		doc, err = decodeXML(data)
	case FormatYAML:
		doc, err = decodeYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return doc.result()
}
