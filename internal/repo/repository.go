// Package repo implements the package repository data model: an
// indexed, partitioned collection of package metadata per (ecosystem,
// OS, arch) cell, releases that compose many such cells for one named
// channel, and the manager that promotes packages between channels.
package repo

import (
	"context"
	"fmt"

	"github.com/frederic-klein/yarm/internal/backend"
	"github.com/frederic-klein/yarm/internal/pkginfo"
	"github.com/frederic-klein/yarm/internal/version"
)

// Query selects packages from a repository or release. All fields are
// optional; the zero Query matches everything.
type Query struct {
	// Name filters by exact package name.
	Name string
	// OS restricts a release-level query to one operating system.
	// Repositories belong to a single OS and ignore it.
	OS string
	// Arch filters by exact architecture.
	Arch string
	// Version filters by version; a wildcard release matches every
	// concrete build of that version.
	Version *version.Version
	// Source, when set, selects every package built from the same
	// source build and all other filters are ignored.
	Source *pkginfo.Package
	// NewestOnly keeps only the packages whose version equals the
	// maximum version in the filtered set. Ties at the maximum all
	// qualify.
	NewestOnly bool
}

// Repository is the indexed package collection for one partition. The
// per-name package lists are always sorted ascending by version, so the
// newest build of a name is the last element. Repositories are mutated
// only by insertion; the dirty flag batches native index regeneration.
type Repository struct {
	part     backend.Partition
	backend  backend.Backend
	packages map[string][]pkginfo.Package
	dirty    bool
}

// NewRepository builds a repository by enumerating the partition's
// persisted index through the backend. An unreadable index is fatal.
func NewRepository(b backend.Backend, part backend.Partition) (*Repository, error) {
	pkgs, err := b.List(part)
	if err != nil {
		return nil, err
	}
	r := &Repository{
		part:     part,
		backend:  b,
		packages: make(map[string][]pkginfo.Package),
	}
	for _, pkg := range pkgs {
		r.packages[pkg.Name] = append(r.packages[pkg.Name], pkg)
	}
	for name := range r.packages {
		pkginfo.Sort(r.packages[name])
	}
	return r, nil
}

// Partition returns the cell this repository indexes.
func (r *Repository) Partition() backend.Partition {
	return r.part
}

// Dirty reports whether the native index is stale relative to the
// in-memory package list.
func (r *Repository) Dirty() bool {
	return r.dirty
}

// Names returns the package names present, unordered.
func (r *Repository) Names() []string {
	names := make([]string, 0, len(r.packages))
	for name := range r.packages {
		names = append(names, name)
	}
	return names
}

// Packages returns the packages matching q. With a source reference it
// returns every package built from that source build; otherwise it
// filters by name, version and arch, optionally keeping only the
// newest version present.
func (r *Repository) Packages(q Query) []pkginfo.Package {
	if q.Source != nil {
		var out []pkginfo.Package
		for _, list := range r.packages {
			for _, pkg := range list {
				if pkg.SameSource(*q.Source) {
					out = append(out, pkg)
				}
			}
		}
		pkginfo.Sort(out)
		return out
	}

	if q.Name == "" {
		var out []pkginfo.Package
		names := r.Names()
		for _, name := range names {
			sub := q
			sub.Name = name
			out = append(out, r.Packages(sub)...)
		}
		pkginfo.Sort(out)
		return out
	}

	var candidates []pkginfo.Package
	for _, pkg := range r.packages[q.Name] {
		if q.Version != nil && !pkg.Version.Equal(*q.Version) {
			continue
		}
		if q.Arch != "" && pkg.Arch != q.Arch {
			continue
		}
		candidates = append(candidates, pkg)
	}
	if q.NewestOnly && len(candidates) > 0 {
		newest := candidates[len(candidates)-1].Version
		var out []pkginfo.Package
		for _, pkg := range candidates {
			if pkg.Version.Equal(newest) {
				out = append(out, pkg)
			}
		}
		return out
	}
	return candidates
}

// IsNewer reports whether pkg is newer than every build of the same
// name and arch already present. An absent name/arch counts as newer.
func (r *Repository) IsNewer(pkg pkginfo.Package) bool {
	matches := r.Packages(Query{Name: pkg.Name, Arch: pkg.Arch, NewestOnly: true})
	if len(matches) == 0 {
		return true
	}
	return matches[len(matches)-1].Version.Less(pkg.Version)
}

// Contains reports whether an exact name/arch/version match exists.
func (r *Repository) Contains(pkg pkginfo.Package) bool {
	v := pkg.Version
	return len(r.Packages(Query{Name: pkg.Name, Arch: pkg.Arch, Version: &v})) > 0
}

// AddPackage copies pkg's artifact into this repository's storage
// (a no-op when the file is already present), indexes a new metadata
// value bound to the new location and returns it. When updateMetadata
// is false the native index regeneration is deferred and the dirty
// flag set, so that a batch of insertions costs one regeneration.
func (r *Repository) AddPackage(ctx context.Context, pkg pkginfo.Package, updateMetadata bool) (pkginfo.Package, error) {
	dest, err := r.backend.Install(ctx, r.part, pkg)
	if err != nil {
		return pkginfo.Package{}, fmt.Errorf("adding %s to %s: %w", pkg.Name, r.part, err)
	}

	added := pkg
	added.Path = dest
	added.OS = r.part.OS

	r.packages[added.Name] = append(r.packages[added.Name], added)
	pkginfo.Sort(r.packages[added.Name])
	r.dirty = true

	if updateMetadata {
		if err := r.UpdateMetadata(ctx, false); err != nil {
			return added, err
		}
	}
	return added, nil
}

// UpdateMetadata regenerates the partition's persisted index when the
// repository is dirty or force is set; otherwise it is a no-op. Safe to
// call repeatedly.
func (r *Repository) UpdateMetadata(ctx context.Context, force bool) error {
	if !r.dirty && !force {
		return nil
	}
	if err := r.backend.Regenerate(ctx, r.part); err != nil {
		return &backend.RegenError{Partition: r.part, Err: err}
	}
	r.dirty = false
	return nil
}
