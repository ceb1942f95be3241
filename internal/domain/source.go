package domain

import (
	"path"
	"sort"
	"strings"
)

// Source is one named data source and the ordered file locations behind it.
type Source struct {
	Name      string
	Locations []string
}

// SourceMap is an ordered list of sources. Sources and their locations are
// registered in slice order.
type SourceMap []Source

// SourcesFromMap builds a SourceMap from an unordered map, ordering sources
// by name.
func SourcesFromMap(m map[string][]string) SourceMap {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(SourceMap, 0, len(names))
	for _, name := range names {
		out = append(out, Source{Name: name, Locations: append([]string(nil), m[name]...)})
	}
	return out
}

// Names returns the source names in order.
func (m SourceMap) Names() []string {
	out := make([]string, len(m))
	for i, s := range m {
		out[i] = s.Name
	}
	return out
}

// staticPrefix is served at the web root, so it never appears in resolved paths.
const staticPrefix = "/static"

// ViewDescriptor describes how one file location is exposed as a view.
type ViewDescriptor struct {
	Schema   string // source name
	Table    string // file stem
	FileName string // virtual file name, {source}_{table}.parquet
	Location string // location as supplied by the caller
	Path     string // normalized location
}

// QualifiedName returns schema.table for logs and messages.
func (d ViewDescriptor) QualifiedName() string {
	return d.Schema + "." + d.Table
}

// DescribeView derives the ViewDescriptor for a location under a source.
func DescribeView(source, location string) ViewDescriptor {
	table := FileStem(location)
	return ViewDescriptor{
		Schema:   source,
		Table:    table,
		FileName: source + "_" + table + ".parquet",
		Location: location,
		Path:     NormalizeLocation(location),
	}
}

// FileStem returns the last path element of a location with exactly one
// trailing extension removed. Both forward and back slashes separate path
// elements.
func FileStem(location string) string {
	base := location
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// NormalizeLocation applies the path rules for registered files:
// network locations pass through, relative paths become root-absolute, and
// the static asset prefix is stripped.
func NormalizeLocation(location string) string {
	if IsNetworkLocation(location) {
		return location
	}
	p := location
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if p == staticPrefix || strings.HasPrefix(p, staticPrefix+"/") {
		p = p[len(staticPrefix):]
	}
	return p
}

// IsNetworkLocation reports whether a location is fetched over the network
// rather than resolved against the asset root.
func IsNetworkLocation(location string) bool {
	if strings.HasPrefix(location, "http") {
		return true
	}
	for _, scheme := range []string{"s3://", "gs://", "gcs://", "az://", "azure://"} {
		if strings.HasPrefix(location, scheme) {
			return true
		}
	}
	return false
}
