// Package pkginfo describes one built package artifact.
package pkginfo

import (
	"fmt"
	"sort"

	"github.com/frederic-klein/yarm/internal/version"
)

// Package is the metadata for a single built artifact. Values are
// immutable: when an artifact is copied into another repository a new
// Package bound to the new path is produced rather than mutating the
// old one.
type Package struct {
	Name    string
	Version version.Version
	Path    string
	Arch    string
	// Source links a binary artifact back to the source artifact it
	// was built from (e.g. "mytool_1.2.3" or "mytool-1.2.3-1.src.rpm").
	Source string
	OS     string
}

// SameSource reports whether p was built from the same source build as
// src: the source references match and the versions compare equal.
func (p Package) SameSource(src Package) bool {
	return p.Source == src.Source && p.Version.Equal(src.Version)
}

// Less orders packages by name, then by version.
func (p Package) Less(o Package) bool {
	if p.Name != o.Name {
		return p.Name < o.Name
	}
	return p.Version.Less(o.Version)
}

func (p Package) String() string {
	return fmt.Sprintf("%s-%s (%s %s/%s)", p.Name, p.Version, p.Arch, p.OS, p.Path)
}

// Sort sorts a package slice ascending by name, then version. The
// newest version of a name is always the last element of its run.
func Sort(pkgs []Package) {
	sort.SliceStable(pkgs, func(i, j int) bool {
		return pkgs[i].Less(pkgs[j])
	})
}
