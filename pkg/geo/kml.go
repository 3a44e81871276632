package geo

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

type kmlCoords struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	Outer kmlCoords   `xml:"outerBoundaryIs>LinearRing"`
	Inner []kmlCoords `xml:"innerBoundaryIs>LinearRing"`
}

type kmlGeometries struct {
	Points   []kmlCoords     `xml:"Point"`
	Lines    []kmlCoords     `xml:"LineString"`
	Rings    []kmlCoords     `xml:"LinearRing"`
	Polygons []kmlPolygon    `xml:"Polygon"`
	Multi    []kmlGeometries `xml:"MultiGeometry"`
}

type kmlData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type kmlSimpleData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type kmlPlacemark struct {
	Name        string          `xml:"name"`
	Description string          `xml:"description"`
	Data        []kmlData       `xml:"ExtendedData>Data"`
	SimpleData  []kmlSimpleData `xml:"ExtendedData>SchemaData>SimpleData"`
	kmlGeometries
}

// readKML streams Placemarks so large documents are not held twice.
func readKML(path string, opts ReadOptions) (*Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		if opts.Encoding != "" {
			label = opts.Encoding
		}
		return decodeReader(input, label)
	}

	layer := &Layer{SRID: DefaultSRID}
	seen := map[string]bool{}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse kml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Placemark" {
			continue
		}
		var pm kmlPlacemark
		if err := dec.DecodeElement(&pm, &start); err != nil {
			return nil, fmt.Errorf("parse kml placemark %d: %w", len(layer.Features)+1, err)
		}
		feat, err := pm.feature()
		if err != nil {
			return nil, fmt.Errorf("placemark %d: %w", len(layer.Features)+1, err)
		}
		layer.Fields = addField(layer.Fields, seen, "name")
		layer.Fields = addField(layer.Fields, seen, "description")
		for _, d := range pm.Data {
			layer.Fields = addField(layer.Fields, seen, d.Name)
		}
		for _, d := range pm.SimpleData {
			layer.Fields = addField(layer.Fields, seen, d.Name)
		}
		layer.Features = append(layer.Features, feat)
	}
	if len(layer.Features) == 0 {
		return nil, errors.New("kml document has no placemarks")
	}
	return layer, nil
}

func (pm *kmlPlacemark) feature() (Feature, error) {
	props := map[string]string{
		"name":        strings.TrimSpace(pm.Name),
		"description": strings.TrimSpace(pm.Description),
	}
	for _, d := range pm.Data {
		props[d.Name] = strings.TrimSpace(d.Value)
	}
	for _, d := range pm.SimpleData {
		props[d.Name] = strings.TrimSpace(d.Value)
	}
	geoms, err := pm.kmlGeometries.collect()
	if err != nil {
		return Feature{}, err
	}
	return Feature{Geometry: combine(geoms), Properties: props}, nil
}

func (g *kmlGeometries) collect() ([]orb.Geometry, error) {
	var out []orb.Geometry
	for _, p := range g.Points {
		pts, err := parseKMLCoords(p.Coordinates)
		if err != nil {
			return nil, err
		}
		if len(pts) != 1 {
			return nil, fmt.Errorf("point has %d coordinates", len(pts))
		}
		out = append(out, pts[0])
	}
	for _, l := range g.Lines {
		pts, err := parseKMLCoords(l.Coordinates)
		if err != nil {
			return nil, err
		}
		out = append(out, orb.LineString(pts))
	}
	for _, r := range g.Rings {
		pts, err := parseKMLCoords(r.Coordinates)
		if err != nil {
			return nil, err
		}
		out = append(out, orb.Polygon{orb.Ring(pts)})
	}
	for _, p := range g.Polygons {
		outer, err := parseKMLCoords(p.Outer.Coordinates)
		if err != nil {
			return nil, err
		}
		poly := orb.Polygon{orb.Ring(outer)}
		for _, in := range p.Inner {
			pts, err := parseKMLCoords(in.Coordinates)
			if err != nil {
				return nil, err
			}
			poly = append(poly, orb.Ring(pts))
		}
		out = append(out, poly)
	}
	for i := range g.Multi {
		sub, err := g.Multi[i].collect()
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

// combine folds several geometries into the narrowest multi type.
func combine(geoms []orb.Geometry) orb.Geometry {
	switch len(geoms) {
	case 0:
		return nil
	case 1:
		return geoms[0]
	}
	var (
		mp   orb.MultiPoint
		mls  orb.MultiLineString
		mpol orb.MultiPolygon
	)
	for _, g := range geoms {
		switch v := g.(type) {
		case orb.Point:
			mp = append(mp, v)
		case orb.LineString:
			mls = append(mls, v)
		case orb.Polygon:
			mpol = append(mpol, v)
		}
	}
	switch len(geoms) {
	case len(mp):
		return mp
	case len(mls):
		return mls
	case len(mpol):
		return mpol
	}
	return orb.Collection(geoms)
}

// parseKMLCoords reads "lon,lat[,alt]" tuples separated by whitespace.
func parseKMLCoords(s string) ([]orb.Point, error) {
	var pts []orb.Point
	for _, tuple := range strings.Fields(s) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("bad coordinate %q", tuple)
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad longitude %q", parts[0])
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad latitude %q", parts[1])
		}
		pts = append(pts, orb.Point{lon, lat})
	}
	if len(pts) == 0 {
		return nil, errors.New("empty coordinates")
	}
	return pts, nil
}
