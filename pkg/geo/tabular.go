package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// wktSampleSize rows are inspected when guessing the geometry column.
const wktSampleSize = 50

var (
	geometryColumnNames = []string{"wkt", "geometry", "geom", "the_geom", "shape"}
	lonColumnNames      = []string{"lon", "lng", "long", "longitude", "x"}
	latColumnNames      = []string{"lat", "latitude", "y"}
)

// ErrNoGeometryColumn is returned when no column holds geometries.
var ErrNoGeometryColumn = errors.New("no geometry column found")

// tableToLayer turns a header row and data rows into a layer. The geometry
// is read from a WKT column, or from a longitude/latitude column pair.
func tableToLayer(header []string, rows [][]string, geometryColumn string) (*Layer, error) {
	if len(header) == 0 {
		return nil, errors.New("missing header row")
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	geomIdx, lonIdx, latIdx := -1, -1, -1
	if geometryColumn != "" {
		geomIdx = indexFold(header, geometryColumn)
		if geomIdx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrNoGeometryColumn, geometryColumn)
		}
	} else {
		geomIdx = detectWKTColumn(header, rows)
		if geomIdx < 0 {
			lonIdx, latIdx = indexAnyFold(header, lonColumnNames), indexAnyFold(header, latColumnNames)
			if lonIdx < 0 || latIdx < 0 {
				return nil, ErrNoGeometryColumn
			}
		}
	}

	layer := &Layer{SRID: DefaultSRID}
	for i, name := range header {
		if i == geomIdx {
			continue
		}
		layer.Fields = append(layer.Fields, name)
	}

	for n, row := range rows {
		if blank(row) {
			continue
		}
		props := make(map[string]string, len(header))
		for i, name := range header {
			if i == geomIdx {
				continue
			}
			props[name] = cell(row, i)
		}

		var g orb.Geometry
		var err error
		if geomIdx >= 0 {
			g, err = parseWKT(cell(row, geomIdx))
		} else {
			g, err = parseLonLat(cell(row, lonIdx), cell(row, latIdx))
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n+2, err)
		}
		layer.Features = append(layer.Features, Feature{Geometry: g, Properties: props})
	}
	return layer, nil
}

// detectWKTColumn prefers a well-known column name, then any column whose
// sampled values parse as WKT more than 90% of the time.
func detectWKTColumn(header []string, rows [][]string) int {
	if i := indexAnyFold(header, geometryColumnNames); i >= 0 {
		return i
	}
	sample := rows
	if len(sample) > wktSampleSize {
		sample = sample[:wktSampleSize]
	}
	for i := range header {
		total, ok := 0, 0
		for _, row := range sample {
			v := cell(row, i)
			if v == "" {
				continue
			}
			total++
			if _, err := wkt.Unmarshal(v); err == nil {
				ok++
			}
		}
		if total > 0 && ok*10 > total*9 {
			return i
		}
	}
	return -1
}

func parseWKT(s string) (orb.Geometry, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	// orb does not understand the EWKT SRID prefix.
	if strings.HasPrefix(strings.ToUpper(s), "SRID=") {
		if i := strings.IndexByte(s, ';'); i >= 0 {
			s = s[i+1:]
		}
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid WKT: %w", err)
	}
	return g, nil
}

func parseLonLat(lon, lat string) (orb.Geometry, error) {
	if lon == "" && lat == "" {
		return nil, nil
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q", lon)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q", lat)
	}
	return orb.Point{x, y}, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func indexFold(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

func indexAnyFold(header []string, names []string) int {
	for _, n := range names {
		if i := indexFold(header, n); i >= 0 {
			return i
		}
	}
	return -1
}
