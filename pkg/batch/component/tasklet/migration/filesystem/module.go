// Package filesystem collects the named migration file systems applications contribute
// to the migration tasklet.
package filesystem

import (
	"fmt"
	"io/fs"
	"sort"

	"go.uber.org/fx"
)

// SourceGroup is the Fx value group of migration sources.
const SourceGroup = "migration_sources"

// Source is a file system of migration scripts. Dir, when set, is the directory inside FS
// that holds the scripts of every database type; otherwise the tasklet uses the type name.
type Source struct {
	Name string
	FS   fs.FS
	Dir  string
}

// Sources indexes migration sources by name.
type Sources map[string]Source

// NewSources indexes sources. Duplicate names are rejected.
func NewSources(sources ...Source) (Sources, error) {
	out := make(Sources, len(sources))
	for _, s := range sources {
		if s.Name == "" || s.FS == nil {
			return nil, fmt.Errorf("migration source needs a name and a file system")
		}
		if _, dup := out[s.Name]; dup {
			return nil, fmt.Errorf("migration source '%s' is provided more than once", s.Name)
		}
		out[s.Name] = s
	}
	return out, nil
}

// Names returns the source names in order.
func (s Sources) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type sourcesParams struct {
	fx.In
	Sources []Source `group:"migration_sources"`
}

// Provide contributes fsys as the migration source called name.
func Provide(name string, fsys fs.FS) fx.Option {
	return fx.Provide(fx.Annotate(
		func() Source { return Source{Name: name, FS: fsys} },
		fx.ResultTags(`group:"`+SourceGroup+`"`),
	))
}

// Module indexes the contributed sources.
var Module = fx.Provide(func(p sourcesParams) (Sources, error) { return NewSources(p.Sources...) })
