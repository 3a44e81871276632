package geo

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// ErrUnknownEncoding is returned for character sets htmlindex does not know.
var ErrUnknownEncoding = errors.New("unknown character encoding")

// ErrInvalidCRS is returned when a CRS string names no EPSG code.
var ErrInvalidCRS = errors.New("invalid CRS, expected EPSG:<code>")

// LookupEncoding resolves a WHATWG encoding label. Empty means utf-8.
func LookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEncoding, name)
	}
	return enc, nil
}

// decodeReader wraps r so it yields utf-8.
func decodeReader(r io.Reader, name string) (io.Reader, error) {
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	if enc == unicode.UTF8 {
		return r, nil
	}
	return enc.NewDecoder().Reader(r), nil
}

// textDecoder converts single attribute values.
type textDecoder struct {
	dec *encoding.Decoder
}

func newTextDecoder(name string) (*textDecoder, error) {
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	if enc == unicode.UTF8 {
		return &textDecoder{}, nil
	}
	return &textDecoder{dec: enc.NewDecoder()}, nil
}

func (d *textDecoder) String(b []byte) string {
	if d.dec == nil {
		if utf8.Valid(b) {
			return string(b)
		}
		return strings.ToValidUTF8(string(b), "�")
	}
	out, err := d.dec.Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}

// ParseCRS returns the EPSG code named by s. Accepted forms are
// "EPSG:4326", "4326", "urn:ogc:def:crs:EPSG::4326" and "CRS84".
func ParseCRS(s string) (int, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "CRS84" || v == "OGC:CRS84" || strings.HasSuffix(v, "OGC:1.3:CRS84") {
		return 4326, nil
	}
	if i := strings.LastIndex(v, ":"); i >= 0 {
		if !strings.Contains(v, "EPSG") {
			return 0, fmt.Errorf("%w: %q", ErrInvalidCRS, s)
		}
		v = v[i+1:]
	}
	code, err := strconv.Atoi(v)
	if err != nil || code <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCRS, s)
	}
	return code, nil
}

// knownPRJ maps distinctive WKT names in .prj files to EPSG codes.
var knownPRJ = []struct {
	marker string
	code   int
}{
	{"WGS_1984_WEB_MERCATOR", 3857},
	{"WGS_84_PSEUDO_MERCATOR", 3857},
	{"POPULAR VISUALISATION", 3857},
	{"GGRS_1987", 2100},
	{"GREEK_GRID", 2100},
	{"ETRS_1989_LAEA", 3035},
	{"ETRS89", 4258},
	{"ETRS_1989", 4258},
	{"NAD_1983", 4269},
	{"NAD83", 4269},
	{"NAD_1927", 4267},
	{"GCS_WGS_1984", 4326},
	{"WGS84", 4326},
	{"WGS_1984", 4326},
	{"WGS 84", 4326},
}

// sridFromPRJ guesses the EPSG code of an ESRI projection string.
// An AUTHORITY["EPSG", ...] clause wins when present.
func sridFromPRJ(prj string) int {
	up := strings.ToUpper(prj)
	if i := strings.LastIndex(up, `AUTHORITY["EPSG",`); i >= 0 {
		rest := strings.TrimLeft(up[i+len(`AUTHORITY["EPSG",`):], ` "`)
		end := strings.IndexAny(rest, `"]`)
		if end > 0 {
			if code, err := strconv.Atoi(strings.TrimSpace(rest[:end])); err == nil {
				return code
			}
		}
	}
	projected := strings.HasPrefix(strings.TrimSpace(up), "PROJCS")
	for _, k := range knownPRJ {
		if !strings.Contains(up, k.marker) {
			continue
		}
		// A projected CRS on a known datum is not the geographic code.
		if projected && k.code != 3857 && k.code != 2100 && k.code != 3035 {
			continue
		}
		return k.code
	}
	return 0
}
