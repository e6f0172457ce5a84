package catalog

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/mohammed-shakir/pcstream/internal/patch"
)

const pcNamespace = "http://pointcloud.org/schemas/PC/"

type pcSchema struct {
	XMLName     xml.Name      `xml:"pc:PointCloudSchema"`
	NS          string        `xml:"xmlns:pc,attr"`
	XSI         string        `xml:"xmlns:xsi,attr"`
	Dimensions  []pcDimension `xml:"pc:dimension"`
	Metadata    pcMetadata    `xml:"pc:metadata"`
	Orientation string        `xml:"pc:orientation"`
}

type pcDimension struct {
	Position       int      `xml:"pc:position"`
	Size           int      `xml:"pc:size"`
	Description    string   `xml:"pc:description"`
	Name           string   `xml:"pc:name"`
	Interpretation string   `xml:"pc:interpretation"`
	Scale          *float64 `xml:"pc:scale,omitempty"`
	Offset         *float64 `xml:"pc:offset,omitempty"`
	Active         bool     `xml:"pc:active"`
}

type pcMetadata struct {
	Entry pcMetadataEntry `xml:"Metadata"`
}

type pcMetadataEntry struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// PointCloudSchemaXML renders the pgpointcloud format document for a new
// output. X, Y and Z carry scale and offset and take positions 1-3; other
// dimensions follow in order.
func PointCloudSchemaXML(s patch.Schema, scales, offsets [3]float64, compression string) (string, error) {
	if compression == "" {
		compression = "none"
	}
	doc := pcSchema{
		NS:          pcNamespace,
		XSI:         "http://www.w3.org/2001/XMLSchema-instance",
		Metadata:    pcMetadata{Entry: pcMetadataEntry{Name: "compression", Type: "string", Value: compression}},
		Orientation: "point",
	}

	var xyz [3]*pcDimension
	var rest []pcDimension
	for _, d := range s {
		ctype, err := patch.CType(d)
		if err != nil {
			return "", err
		}
		dim := pcDimension{Size: d.Size, Description: d.Name, Name: d.Name, Interpretation: ctype, Active: true}
		if i := axisIndex(d.Name); i >= 0 {
			sc, off := scales[i], offsets[i]
			dim.Position, dim.Scale, dim.Offset = i+1, &sc, &off
			xyz[i] = &dim
			continue
		}
		rest = append(rest, dim)
	}
	for i, d := range xyz {
		if d == nil {
			return "", fmt.Errorf("schema lacks dimension %c", "XYZ"[i])
		}
		doc.Dimensions = append(doc.Dimensions, *d)
	}
	for i, d := range rest {
		d.Position = i + 4
		doc.Dimensions = append(doc.Dimensions, d)
	}

	b, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal pointcloud schema: %w", err)
	}
	return xml.Header + string(b), nil
}

func axisIndex(name string) int {
	switch strings.ToLower(name) {
	case "x":
		return 0
	case "y":
		return 1
	case "z":
		return 2
	}
	return -1
}
