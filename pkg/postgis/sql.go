package postgis

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/jdziat/geo-ingest/pkg/geo"
	"github.com/jdziat/geo-ingest/pkg/security"
)

// GeometryColumn is the name of the geometry column of every loaded table.
const GeometryColumn = "geom"

// maxParams is the PostgreSQL limit on bind parameters per statement.
const maxParams = 65535

// quoteIdent quotes a PostgreSQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualified(schema, table string) string {
	return quoteIdent(schema) + "." + quoteIdent(table)
}

// columnType is the SQL type chosen for an attribute.
type columnType int

const (
	typeText columnType = iota
	typeBigint
	typeDouble
)

func (t columnType) String() string {
	switch t {
	case typeBigint:
		return "bigint"
	case typeDouble:
		return "double precision"
	default:
		return "text"
	}
}

// column maps one layer field to a table column.
type column struct {
	Field string
	Name  string
	Type  columnType
	// Unique is true when every feature has a distinct non-empty value.
	Unique bool
}

// columnName makes a field name usable as a column: lower case, letters,
// digits and underscores only, within the identifier length limit.
func columnName(field string, i int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(field)) {
		switch {
		case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '.':
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" {
		name = "field_" + strconv.Itoa(i+1)
	}
	if unicode.IsDigit(rune(name[0])) {
		name = "_" + name
	}
	return truncate(name, security.MaxIdentifierLength)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Do not cut a multi-byte rune.
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// planColumns names, types and checks uniqueness of every layer field.
func planColumns(layer *geo.Layer) []column {
	cols := make([]column, 0, len(layer.Fields))
	used := map[string]bool{GeometryColumn: true}
	for i, f := range layer.Fields {
		name := columnName(f, i)
		base := name
		for n := 1; used[name]; n++ {
			suffix := "_" + strconv.Itoa(n)
			name = truncate(base, security.MaxIdentifierLength-len(suffix)) + suffix
		}
		used[name] = true
		cols = append(cols, column{
			Field:  f,
			Name:   name,
			Type:   inferType(layer, f),
			Unique: isUnique(layer, f),
		})
	}
	return cols
}

func inferType(layer *geo.Layer, field string) columnType {
	t := typeBigint
	seen := false
	for _, feat := range layer.Features {
		v := feat.Properties[field]
		if v == "" {
			continue
		}
		seen = true
		if t == typeBigint {
			if _, err := strconv.ParseInt(v, 10, 64); err == nil {
				continue
			}
			t = typeDouble
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return typeText
		}
	}
	if !seen {
		return typeText
	}
	return t
}

func isUnique(layer *geo.Layer, field string) bool {
	if len(layer.Features) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(layer.Features))
	for _, feat := range layer.Features {
		v := feat.Properties[field]
		if v == "" {
			return false
		}
		if _, dup := seen[v]; dup {
			return false
		}
		seen[v] = struct{}{}
	}
	return true
}

// createTableSQL returns the DDL for the target table.
func createTableSQL(schema, table string, cols []column, geomType string, srid int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (", qualified(schema, table))
	for _, c := range cols {
		fmt.Fprintf(&b, "%s %s, ", quoteIdent(c.Name), c.Type)
	}
	fmt.Fprintf(&b, "%s geometry(%s, %d))", quoteIdent(GeometryColumn), geomType, srid)
	return b.String()
}

// chunkRows caps rows per INSERT so the statement stays under maxParams.
func chunkRows(chunk, ncols int) int {
	limit := maxParams / (ncols + 1)
	if chunk <= 0 || chunk > limit {
		return limit
	}
	return chunk
}

// insertSQL builds one multi-row INSERT and its arguments for features.
func insertSQL(schema, table string, cols []column, srid int, features []geo.Feature) (string, []any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (", qualified(schema, table))
	for _, c := range cols {
		b.WriteString(quoteIdent(c.Name))
		b.WriteString(", ")
	}
	b.WriteString(quoteIdent(GeometryColumn))
	b.WriteString(") VALUES ")

	row := "(" + strings.Repeat("?, ", len(cols)) + fmt.Sprintf("ST_GeomFromText(?, %d))", srid)
	args := make([]any, 0, len(features)*(len(cols)+1))
	for i, f := range features {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)
		for _, c := range cols {
			v, err := c.value(f.Properties[c.Field])
			if err != nil {
				return "", nil, err
			}
			args = append(args, v)
		}
		if f.Geometry == nil {
			args = append(args, nil)
		} else {
			args = append(args, wkt.MarshalString(f.Geometry))
		}
	}
	return b.String(), args, nil
}

func (c column) value(s string) (any, error) {
	if s == "" {
		if c.Type == typeText {
			return s, nil
		}
		return nil, nil
	}
	switch c.Type {
	case typeBigint:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		return v, nil
	case typeDouble:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		return v, nil
	default:
		return s, nil
	}
}

// indexSQL returns the statements run after a load: a spatial index, then
// a primary key on the first unique column and unique indexes on the rest.
func indexSQL(schema, table string, cols []column) []string {
	stmts := []string{fmt.Sprintf("CREATE INDEX %s ON %s USING GIST (%s)",
		quoteIdent(truncate(table, security.MaxIdentifierLength-9)+"_geom_idx"),
		qualified(schema, table), quoteIdent(GeometryColumn))}
	primary := false
	for _, c := range cols {
		if !c.Unique {
			continue
		}
		if !primary {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)",
				qualified(schema, table), quoteIdent(c.Name)))
			primary = true
			continue
		}
		stmts = append(stmts, fmt.Sprintf("CREATE UNIQUE INDEX ON %s (%s)",
			qualified(schema, table), quoteIdent(c.Name)))
	}
	return stmts
}
