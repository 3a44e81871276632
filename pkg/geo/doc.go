// Package geo reads vector sources into an in-memory Layer.
//
// Supported inputs are KML, delimited text with a WKT or lon/lat column,
// xlsx workbooks with the same layout, and ESRI shapefiles. Unpack
// extracts archives before reading.
//
// All reader failures are returned as *core.FormatError.
package geo
