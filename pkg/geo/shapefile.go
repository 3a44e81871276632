package geo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

// ErrMissingDBF is returned for a shapefile without its attribute table.
var ErrMissingDBF = errors.New("missing .dbf attribute file")

// readShapefile reads a .shp with its .dbf attributes. Sidecars are found
// regardless of letter case. The character set comes from opts, then the
// .cpg sidecar, then utf-8. The SRID is guessed from the .prj sidecar.
func readShapefile(path string, opts ReadOptions) (*Layer, error) {
	dbfPath, ok := findSidecar(path, ".dbf")
	if !ok {
		return nil, ErrMissingDBF
	}
	shpFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	dbfFile, err := os.Open(dbfPath)
	if err != nil {
		shpFile.Close()
		return nil, fmt.Errorf("open attribute table: %w", err)
	}
	r := shp.SequentialReaderFromExt(shpFile, dbfFile)
	defer r.Close()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read shapefile header: %w", err)
	}

	enc := opts.Encoding
	if enc == "" {
		enc = sidecar(path, ".cpg")
	}
	dec, err := newTextDecoder(enc)
	if err != nil {
		return nil, err
	}

	layer := &Layer{SRID: DefaultSRID}
	if prj := sidecar(path, ".prj"); prj != "" {
		if code := sridFromPRJ(prj); code > 0 {
			layer.SRID = code
		}
	}

	fields := r.Fields()
	for _, f := range fields {
		layer.Fields = append(layer.Fields, f.String())
	}

	for r.Next() {
		n, shape := r.Shape()
		g, err := shapeToGeometry(shape)
		if err != nil {
			return nil, fmt.Errorf("shape %d: %w", n, err)
		}
		props := make(map[string]string, len(fields))
		for i, name := range layer.Fields {
			props[name] = strings.Trim(dec.String([]byte(r.Attribute(i))), " \x00")
		}
		layer.Features = append(layer.Features, Feature{Geometry: g, Properties: props})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read shapefile: %w", err)
	}
	return layer, nil
}

// findSidecar returns the file next to path that has the same base name
// and the extension ext, compared without regard to case. An exact match
// wins.
func findSidecar(path, ext string) (string, bool) {
	base := strings.TrimSuffix(filepath.Base(path), pathExt(path))
	want := base + ext
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), want)); err == nil {
		return filepath.Join(filepath.Dir(path), want), true
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), want) {
			return filepath.Join(filepath.Dir(path), e.Name()), true
		}
	}
	return "", false
}

// sidecar returns the trimmed content of the file next to path with the
// given extension, or "".
func sidecar(path, ext string) string {
	p, ok := findSidecar(path, ext)
	if !ok {
		return ""
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func pathExt(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 && !strings.ContainsAny(path[i:], `/\`) {
		return path[i:]
	}
	return ""
}

func shapeToGeometry(s shp.Shape) (orb.Geometry, error) {
	switch v := s.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.Point:
		return orb.Point{v.X, v.Y}, nil
	case *shp.PointZ:
		return orb.Point{v.X, v.Y}, nil
	case *shp.PointM:
		return orb.Point{v.X, v.Y}, nil
	case *shp.MultiPoint:
		return multiPoint(v.Points), nil
	case *shp.MultiPointZ:
		return multiPoint(v.Points), nil
	case *shp.MultiPointM:
		return multiPoint(v.Points), nil
	case *shp.PolyLine:
		return lines(v.Parts, v.Points), nil
	case *shp.PolyLineZ:
		return lines(v.Parts, v.Points), nil
	case *shp.PolyLineM:
		return lines(v.Parts, v.Points), nil
	case *shp.Polygon:
		return polygons(v.Parts, v.Points), nil
	case *shp.PolygonZ:
		return polygons(v.Parts, v.Points), nil
	case *shp.PolygonM:
		return polygons(v.Parts, v.Points), nil
	default:
		return nil, fmt.Errorf("unsupported shape type %T", s)
	}
}

func multiPoint(pts []shp.Point) orb.Geometry {
	mp := make(orb.MultiPoint, len(pts))
	for i, p := range pts {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

// split cuts the point list at the part offsets.
func split(parts []int32, pts []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(pts))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(pts) {
			continue
		}
		seg := make([]orb.Point, 0, end-start)
		for _, p := range pts[start:end] {
			seg = append(seg, orb.Point{p.X, p.Y})
		}
		out = append(out, seg)
	}
	return out
}

func lines(parts []int32, pts []shp.Point) orb.Geometry {
	segs := split(parts, pts)
	if len(segs) == 1 {
		return orb.LineString(segs[0])
	}
	mls := make(orb.MultiLineString, len(segs))
	for i, s := range segs {
		mls[i] = s
	}
	return mls
}

// polygons groups rings: a clockwise ring starts a polygon and each
// counter-clockwise ring is a hole of the polygon before it.
func polygons(parts []int32, pts []shp.Point) orb.Geometry {
	var mp orb.MultiPolygon
	for _, seg := range split(parts, pts) {
		ring := orb.Ring(seg)
		if ring.Orientation() == orb.CCW && len(mp) > 0 {
			last := len(mp) - 1
			mp[last] = append(mp[last], ring)
			continue
		}
		mp = append(mp, orb.Polygon{ring})
	}
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}
