package geo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"

	"github.com/jdziat/geo-ingest/pkg/core"
)

// DefaultSRID is assumed when a source does not declare its CRS.
const DefaultSRID = 4326

// ErrUnsupportedFormat is wrapped in a FormatError for unknown inputs.
var ErrUnsupportedFormat = errors.New("unsupported vector format")

// Feature is one geometry with its attributes. Geometry may be nil.
type Feature struct {
	Geometry   orb.Geometry
	Properties map[string]string
}

// Layer is the content of one vector source.
type Layer struct {
	Name     string
	Fields   []string
	Features []Feature
	SRID     int
}

// ReadOptions control how a source is decoded.
type ReadOptions struct {
	Encoding       string // Attribute character set, default utf-8
	GeometryColumn string // Tabular sources only; detected when empty
	CRS            string // Overrides the CRS declared by the source
}

type reader func(path string, opts ReadOptions) (*Layer, error)

var readers = map[string]reader{
	".kml":  readKML,
	".csv":  readCSV,
	".tsv":  readCSV,
	".txt":  readCSV,
	".xlsx": readXLSX,
	".shp":  readShapefile,
}

// Supported reports whether path has a readable extension.
func Supported(path string) bool {
	_, ok := readers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Read loads the vector source at path. A directory is searched for the
// first supported file, shapefiles first.
func Read(path string, opts ReadOptions) (*Layer, error) {
	srid := 0
	if opts.CRS != "" {
		code, err := ParseCRS(opts.CRS)
		if err != nil {
			return nil, &core.FormatError{Path: path, Err: err}
		}
		srid = code
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &core.FormatError{Path: path, Err: err}
	}
	if info.IsDir() {
		found, err := findSource(path)
		if err != nil {
			return nil, &core.FormatError{Path: path, Err: err}
		}
		path = found
	}

	read, ok := readers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, &core.FormatError{Path: path, Err: ErrUnsupportedFormat}
	}
	layer, err := read(path, opts)
	if err != nil {
		var fe *core.FormatError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &core.FormatError{Path: path, Err: err}
	}

	if layer.Name == "" {
		layer.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if srid > 0 {
		layer.SRID = srid
	}
	if layer.SRID == 0 {
		layer.SRID = DefaultSRID
	}
	layer.Normalize()
	return layer, nil
}

// findSource walks dir and returns the best candidate file.
func findSource(dir string) (string, error) {
	var candidates []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), "__MACOSX") {
				return filepath.SkipDir
			}
			return nil
		}
		if Supported(p) && !strings.HasPrefix(d.Name(), ".") {
			candidates = append(candidates, p)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no vector file found", ErrUnsupportedFormat)
	}

	rank := func(p string) int {
		switch strings.ToLower(filepath.Ext(p)) {
		case ".shp":
			return 0
		case ".kml":
			return 1
		case ".xlsx":
			return 2
		default:
			return 3
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := rank(candidates[i]), rank(candidates[j])
		if ri != rj {
			return ri < rj
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0], nil
}

// GeometryType returns the PostGIS type shared by all features, or
// GEOMETRY when they differ or the layer has no geometries.
func (l *Layer) GeometryType() string {
	t := ""
	for _, f := range l.Features {
		if f.Geometry == nil {
			continue
		}
		ft := postgisType(f.Geometry)
		if t == "" {
			t = ft
		} else if t != ft {
			return "GEOMETRY"
		}
	}
	if t == "" {
		return "GEOMETRY"
	}
	return t
}

// Normalize promotes single geometries to their multi form when the layer
// mixes both, so the layer can be stored in one typed column.
func (l *Layer) Normalize() {
	kinds := map[string]bool{}
	for _, f := range l.Features {
		if f.Geometry != nil {
			kinds[postgisType(f.Geometry)] = true
		}
	}
	if len(kinds) != 2 {
		return
	}
	var promote func(orb.Geometry) orb.Geometry
	switch {
	case kinds["POINT"] && kinds["MULTIPOINT"]:
		promote = func(g orb.Geometry) orb.Geometry {
			if p, ok := g.(orb.Point); ok {
				return orb.MultiPoint{p}
			}
			return g
		}
	case kinds["LINESTRING"] && kinds["MULTILINESTRING"]:
		promote = func(g orb.Geometry) orb.Geometry {
			if ls, ok := g.(orb.LineString); ok {
				return orb.MultiLineString{ls}
			}
			return g
		}
	case kinds["POLYGON"] && kinds["MULTIPOLYGON"]:
		promote = func(g orb.Geometry) orb.Geometry {
			if p, ok := g.(orb.Polygon); ok {
				return orb.MultiPolygon{p}
			}
			return g
		}
	default:
		return
	}
	for i := range l.Features {
		if l.Features[i].Geometry != nil {
			l.Features[i].Geometry = promote(l.Features[i].Geometry)
		}
	}
}

func postgisType(g orb.Geometry) string {
	switch g.(type) {
	case orb.Point:
		return "POINT"
	case orb.MultiPoint:
		return "MULTIPOINT"
	case orb.LineString:
		return "LINESTRING"
	case orb.MultiLineString:
		return "MULTILINESTRING"
	case orb.Polygon, orb.Ring, orb.Bound:
		return "POLYGON"
	case orb.MultiPolygon:
		return "MULTIPOLYGON"
	case orb.Collection:
		return "GEOMETRYCOLLECTION"
	default:
		return "GEOMETRY"
	}
}

// addField appends name to fields unless present.
func addField(fields []string, seen map[string]bool, name string) []string {
	if seen[name] {
		return fields
	}
	seen[name] = true
	return append(fields, name)
}
