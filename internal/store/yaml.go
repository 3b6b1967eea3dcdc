package store

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileStorage puts a %YAML:1.0 directive on the first line, which is not
// valid YAML 1.2 and is stripped before parsing.
const yamlHeader = "%YAML:1.0\n---\n"

const matrixTag = "!!opencv-matrix"

// yamlFloat keeps a decimal point on integral values so readers resolve
// them as floats.
func yamlFloat(v float64) string {
	s := formatFloat(v)
	if !strings.ContainsAny(s, ".eEIN") {
		s += "."
	}
	return s
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: value}
}

func matrixNode(m matrix) *yaml.Node {
	data := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, v := range m.Data {
		data.Content = append(data.Content, scalarNode(yamlFloat(v)))
	}
	return &yaml.Node{
		Kind: yaml.MappingNode,
		Tag:  matrixTag,
		Content: []*yaml.Node{
			scalarNode("rows"), scalarNode(strconv.Itoa(m.Rows)),
			scalarNode("cols"), scalarNode(strconv.Itoa(m.Cols)),
			scalarNode("dt"), scalarNode("d"),
			scalarNode("data"), data,
		},
	}
}

func encodeYAML(doc document) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value *yaml.Node) {
		root.Content = append(root.Content, scalarNode(key), value)
	}
	add("img_shape", matrixNode(doc.ImgShape))
	if doc.ProjShape != nil {
		add("proj_shape", matrixNode(*doc.ProjShape))
	}
	add("rms", scalarNode(yamlFloat(doc.RMS)))
	add("cam_int", matrixNode(doc.CamInt))
	add("cam_dist", matrixNode(doc.CamDist))
	add("proj_int", matrixNode(doc.ProjInt))
	add("proj_dist", matrixNode(doc.ProjDist))
	add("rotation", matrixNode(doc.Rotation))
	add("translation", matrixNode(doc.Translation))
	add("successful_captures", scalarNode(strconv.Itoa(doc.SuccessfulCaptures)))

	var buf bytes.Buffer
	buf.WriteString(yamlHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(3)
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeYAML(data []byte) (document, error) {
	if bytes.HasPrefix(data, []byte("%YAML")) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		} else {
			data = nil
		}
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return document{}, err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return document{}, fmt.Errorf("%w: top level is not a mapping", ErrMalformed)
	}
	top := root.Content[0]

	var doc document
	seen := map[string]bool{}
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, value := top.Content[i].Value, top.Content[i+1]
		seen[key] = true
		var err error
		switch key {
		case "img_shape":
			doc.ImgShape, err = yamlMatrix(key, value)
		case "proj_shape":
			var m matrix
			m, err = yamlMatrix(key, value)
			doc.ProjShape = &m
		case "rms":
			doc.RMS, err = strconv.ParseFloat(value.Value, 64)
		case "cam_int":
			doc.CamInt, err = yamlMatrix(key, value)
		case "cam_dist":
			doc.CamDist, err = yamlMatrix(key, value)
		case "proj_int":
			doc.ProjInt, err = yamlMatrix(key, value)
		case "proj_dist":
			doc.ProjDist, err = yamlMatrix(key, value)
		case "rotation":
			doc.Rotation, err = yamlMatrix(key, value)
		case "translation":
			doc.Translation, err = yamlMatrix(key, value)
		case "successful_captures":
			doc.SuccessfulCaptures, err = strconv.Atoi(value.Value)
		}
		if err != nil {
			return document{}, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
		}
	}
	for _, key := range []string{"rms", "successful_captures"} {
		if !seen[key] {
			return document{}, fmt.Errorf("%w: missing %s", ErrMalformed, key)
		}
	}
	return doc, nil
}

func yamlMatrix(name string, n *yaml.Node) (matrix, error) {
	if n.Kind != yaml.MappingNode {
		return matrix{}, fmt.Errorf("%s is not a matrix", name)
	}
	var m matrix
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i].Value, n.Content[i+1]
		var err error
		switch key {
		case "rows":
			m.Rows, err = strconv.Atoi(value.Value)
		case "cols":
			m.Cols, err = strconv.Atoi(value.Value)
		case "data":
			for _, item := range value.Content {
				v, perr := strconv.ParseFloat(item.Value, 64)
				if perr != nil {
					return matrix{}, perr
				}
				m.Data = append(m.Data, v)
			}
		}
		if err != nil {
			return matrix{}, err
		}
	}
	return m, nil
}
