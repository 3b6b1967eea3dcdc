package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"procam-calibration/internal/calib"

	"github.com/google/uuid"
)

const (
	formatVersion  = "1.0"
	conversionTool = "procam-calibrate convert"
)

type Schema int

const (
	// SchemaJSON keeps OpenCV axes and millimetres.
	SchemaJSON Schema = iota
	// SchemaUnreal gives the projector transform in Unreal Engine axes and
	// centimetres.
	SchemaUnreal
)

func (s Schema) String() string {
	switch s {
	case SchemaJSON:
		return "json"
	case SchemaUnreal:
		return "unreal"
	default:
		return fmt.Sprintf("schema(%d)", int(s))
	}
}

func ParseSchema(name string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return SchemaJSON, nil
	case "unreal":
		return SchemaUnreal, nil
	default:
		return 0, fmt.Errorf("%w: schema %q", ErrUnknownFormat, name)
	}
}

type Metadata struct {
	Timestamp      string `json:"timestamp"`
	SourceFile     string `json:"source_file"`
	ConversionTool string `json:"conversion_tool"`
	FormatVersion  string `json:"format_version"`
	ExportID       string `json:"export_id"`
}

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Quality struct {
	RMS                float64    `json:"rms_reprojection_error"`
	SuccessfulCaptures int        `json:"successful_captures"`
	ImageResolution    Resolution `json:"image_resolution"`
}

type FocalLength struct {
	Fx float64 `json:"fx"`
	Fy float64 `json:"fy"`
}

type PrincipalPoint struct {
	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`
}

type DeviceIntrinsics struct {
	Matrix         [][]float64    `json:"matrix"`
	Distortion     []float64      `json:"distortion_coefficients"`
	FocalLength    FocalLength    `json:"focal_length"`
	PrincipalPoint PrincipalPoint `json:"principal_point"`
	Resolution     *Resolution    `json:"resolution,omitempty"`
}

type EulerXYZ struct {
	PitchX float64 `json:"pitch_x"`
	YawY   float64 `json:"yaw_y"`
	RollZ  float64 `json:"roll_z"`
}

type Extrinsics struct {
	RotationMatrix    [][]float64 `json:"rotation_matrix"`
	TranslationVector []float64   `json:"translation_vector"`
	RotationVector    []float64   `json:"rotation_vector"`
	Distance          float64     `json:"distance"`
	EulerAngles       EulerXYZ    `json:"euler_angles"`
}

type CoordinateSystem struct {
	Description    string `json:"description"`
	CameraFrame    string `json:"camera_frame,omitempty"`
	ProjectorFrame string `json:"projector_frame,omitempty"`
	Units          string `json:"units"`
}

// JSONExport is the SchemaJSON document.
type JSONExport struct {
	Metadata            Metadata         `json:"metadata"`
	CalibrationQuality  Quality          `json:"calibration_quality"`
	CameraIntrinsics    DeviceIntrinsics `json:"camera_intrinsics"`
	ProjectorIntrinsics DeviceIntrinsics `json:"projector_intrinsics"`
	ExtrinsicParameters Extrinsics       `json:"extrinsic_parameters"`
	CoordinateSystem    CoordinateSystem `json:"coordinate_system"`
}

type XYZ struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type RollPitchYaw struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

type UnrealTransform struct {
	Location       XYZ          `json:"location"`
	Rotation       RollPitchYaw `json:"rotation"`
	Scale          XYZ          `json:"scale"`
	RotationMatrix [][]float64  `json:"rotation_matrix"`
	Distance       float64      `json:"distance"`
}

// UnrealExport is the SchemaUnreal document: the projector pose relative to
// the camera, ready to paste into a Transform component.
type UnrealExport struct {
	Metadata            Metadata         `json:"metadata"`
	CalibrationQuality  Quality          `json:"calibration_quality"`
	ProjectorTransform  UnrealTransform  `json:"projector_transform"`
	ProjectorIntrinsics DeviceIntrinsics `json:"projector_intrinsics"`
	CoordinateSystem    CoordinateSystem `json:"coordinate_system"`
}

func rows3(m calib.Mat3) [][]float64 {
	return [][]float64{
		{m[0], m[1], m[2]},
		{m[3], m[4], m[5]},
		{m[6], m[7], m[8]},
	}
}

func metadata(source string, now time.Time) Metadata {
	return Metadata{
		Timestamp:      now.Format(time.RFC3339),
		SourceFile:     source,
		ConversionTool: conversionTool,
		FormatVersion:  formatVersion,
		ExportID:       uuid.NewString(),
	}
}

func quality(res *calib.Result) Quality {
	return Quality{
		RMS:                res.RMS,
		SuccessfulCaptures: res.Sessions,
		ImageResolution:    Resolution{Width: res.CameraSize.X, Height: res.CameraSize.Y},
	}
}

func intrinsics(c calib.Camera) DeviceIntrinsics {
	dist := c.Dist
	if dist == nil {
		dist = []float64{}
	}
	return DeviceIntrinsics{
		Matrix:         rows3(c.K.Matrix()),
		Distortion:     dist,
		FocalLength:    FocalLength{Fx: c.K.Fx, Fy: c.K.Fy},
		PrincipalPoint: PrincipalPoint{Cx: c.K.Cx, Cy: c.K.Cy},
	}
}

func projectorIntrinsics(res *calib.Result) DeviceIntrinsics {
	out := intrinsics(res.Projector)
	if res.ProjectorSize.X > 0 && res.ProjectorSize.Y > 0 {
		out.Resolution = &Resolution{Width: res.ProjectorSize.X, Height: res.ProjectorSize.Y}
	}
	return out
}

func BuildJSON(res *calib.Result, source string, now time.Time) JSONExport {
	rv := calib.RodriguesVector(res.R)
	e := EulerAngles(res.R)
	return JSONExport{
		Metadata:            metadata(source, now),
		CalibrationQuality:  quality(res),
		CameraIntrinsics:    intrinsics(res.Camera),
		ProjectorIntrinsics: projectorIntrinsics(res),
		ExtrinsicParameters: Extrinsics{
			RotationMatrix:    rows3(res.R),
			TranslationVector: []float64{res.T.X, res.T.Y, res.T.Z},
			RotationVector:    []float64{rv.X, rv.Y, rv.Z},
			Distance:          res.T.Norm(),
			EulerAngles:       EulerXYZ{PitchX: e.X, YawY: e.Y, RollZ: e.Z},
		},
		CoordinateSystem: CoordinateSystem{
			Description:    "OpenCV coordinate system",
			CameraFrame:    "Right-handed, Z forward, Y down, X right",
			ProjectorFrame: "Same as camera frame",
			Units:          "millimeters",
		},
	}
}

func BuildUnreal(res *calib.Result, source string, now time.Time) UnrealExport {
	rot, t := ToUnreal(res.R, res.T)
	e := EulerAngles(rot)
	return UnrealExport{
		Metadata:           metadata(source, now),
		CalibrationQuality: quality(res),
		ProjectorTransform: UnrealTransform{
			Location:       XYZ{X: t.X, Y: t.Y, Z: t.Z},
			Rotation:       RollPitchYaw{Roll: e.X, Pitch: e.Y, Yaw: e.Z},
			Scale:          XYZ{X: 1, Y: 1, Z: 1},
			RotationMatrix: rows3(rot),
			Distance:       t.Norm(),
		},
		ProjectorIntrinsics: projectorIntrinsics(res),
		CoordinateSystem: CoordinateSystem{
			Description: "Unreal Engine coordinate system",
			CameraFrame: "Left-handed, X forward, Y right, Z up",
			Units:       "centimeters",
		},
	}
}

// Convert reads a saved result from in and writes it to out as indented
// JSON in the given schema.
func Convert(in, out string, schema Schema) error {
	res, err := Load(in)
	if err != nil {
		return err
	}

	var doc interface{}
	switch schema {
	case SchemaJSON:
		doc = BuildJSON(res, in, time.Now())
	case SchemaUnreal:
		doc = BuildUnreal(res, in, time.Now())
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, schema)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s export: %w", schema, err)
	}
	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	if err := os.WriteFile(out, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	return nil
}
