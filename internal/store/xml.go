package store

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

type xmlMatrix struct {
	TypeID string `xml:"type_id,attr"`
	Rows   int    `xml:"rows"`
	Cols   int    `xml:"cols"`
	DT     string `xml:"dt"`
	Data   string `xml:"data"`
}

type xmlStorage struct {
	XMLName            xml.Name   `xml:"opencv_storage"`
	ImgShape           *xmlMatrix `xml:"img_shape"`
	ProjShape          *xmlMatrix `xml:"proj_shape,omitempty"`
	RMS                float64    `xml:"rms"`
	CamInt             *xmlMatrix `xml:"cam_int"`
	CamDist            *xmlMatrix `xml:"cam_dist"`
	ProjInt            *xmlMatrix `xml:"proj_int"`
	ProjDist           *xmlMatrix `xml:"proj_dist"`
	Rotation           *xmlMatrix `xml:"rotation"`
	Translation        *xmlMatrix `xml:"translation"`
	SuccessfulCaptures int        `xml:"successful_captures"`
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func toXMLMatrix(m matrix) *xmlMatrix {
	vals := make([]string, len(m.Data))
	for i, v := range m.Data {
		vals[i] = formatFloat(v)
	}
	return &xmlMatrix{
		TypeID: "opencv-matrix",
		Rows:   m.Rows,
		Cols:   m.Cols,
		DT:     "d",
		Data:   strings.Join(vals, " "),
	}
}

func fromXMLMatrix(name string, x *xmlMatrix) (matrix, error) {
	if x == nil {
		return matrix{}, fmt.Errorf("%w: missing %s", ErrMalformed, name)
	}
	fields := strings.Fields(x.Data)
	data := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return matrix{}, fmt.Errorf("%w: %s value %q", ErrMalformed, name, f)
		}
		data[i] = v
	}
	return matrix{Rows: x.Rows, Cols: x.Cols, Data: data}, nil
}

func encodeXML(doc document) ([]byte, error) {
	st := xmlStorage{
		ImgShape:           toXMLMatrix(doc.ImgShape),
		RMS:                doc.RMS,
		CamInt:             toXMLMatrix(doc.CamInt),
		CamDist:            toXMLMatrix(doc.CamDist),
		ProjInt:            toXMLMatrix(doc.ProjInt),
		ProjDist:           toXMLMatrix(doc.ProjDist),
		Rotation:           toXMLMatrix(doc.Rotation),
		Translation:        toXMLMatrix(doc.Translation),
		SuccessfulCaptures: doc.SuccessfulCaptures,
	}
	if doc.ProjShape != nil {
		st.ProjShape = toXMLMatrix(*doc.ProjShape)
	}
	body, err := xml.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, err
	}
	out := []byte("<?xml version=\"1.0\"?>\n")
	out = append(out, body...)
	return append(out, '\n'), nil
}

func decodeXML(data []byte) (document, error) {
	var st xmlStorage
	if err := xml.Unmarshal(data, &st); err != nil {
		return document{}, err
	}

	doc := document{RMS: st.RMS, SuccessfulCaptures: st.SuccessfulCaptures}
	fields := []struct {
		name string
		src  *xmlMatrix
		dst  *matrix
	}{
		{"img_shape", st.ImgShape, &doc.ImgShape},
		{"cam_int", st.CamInt, &doc.CamInt},
		{"cam_dist", st.CamDist, &doc.CamDist},
		{"proj_int", st.ProjInt, &doc.ProjInt},
		{"proj_dist", st.ProjDist, &doc.ProjDist},
		{"rotation", st.Rotation, &doc.Rotation},
		{"translation", st.Translation, &doc.Translation},
	}
	for _, f := range fields {
		m, err := fromXMLMatrix(f.name, f.src)
		if err != nil {
			return document{}, err
		}
		*f.dst = m
	}
	if st.ProjShape != nil {
		m, err := fromXMLMatrix("proj_shape", st.ProjShape)
		if err != nil {
			return document{}, err
		}
		doc.ProjShape = &m
	}
	return doc, nil
}
