package repo

import (
	"context"
	"errors"
	"sort"

	"github.com/frederic-klein/yarm/internal/pkginfo"
)

// RouteFunc decides which repositories of a release a package belongs
// in. Ecosystems disagree here: apt files architecture-independent
// artifacts under the source cell, while yum tooling cannot resolve a
// cross-arch index so "noarch" artifacts must be filed into every
// architecture cell of their OS. Never assume a 1:1 mapping.
type RouteFunc func(rel *Release, pkg pkginfo.Package) []*Repository

// Release composes the repositories of one named channel across the
// OS/architecture matrix.
type Release struct {
	Name string

	repos map[string]map[string]*Repository
	route RouteFunc
}

// NewRelease creates an empty release. A nil route defaults to
// RouteByOSArch.
func NewRelease(name string, route RouteFunc) *Release {
	if route == nil {
		route = RouteByOSArch
	}
	return &Release{
		Name:  name,
		repos: make(map[string]map[string]*Repository),
		route: route,
	}
}

// AddRepository registers the repository for one (os, arch) cell.
func (rel *Release) AddRepository(osName, arch string, r *Repository) {
	if rel.repos[osName] == nil {
		rel.repos[osName] = make(map[string]*Repository)
	}
	rel.repos[osName][arch] = r
}

// OperatingSystems returns the OS names in the release, sorted.
func (rel *Release) OperatingSystems() []string {
	names := make([]string, 0, len(rel.repos))
	for name := range rel.repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Architectures returns the architecture cells under an OS, sorted.
func (rel *Release) Architectures(osName string) []string {
	arches := make([]string, 0, len(rel.repos[osName]))
	for arch := range rel.repos[osName] {
		arches = append(arches, arch)
	}
	sort.Strings(arches)
	return arches
}

// Repository returns the repository for one cell, or nil.
func (rel *Release) Repository(osName, arch string) *Repository {
	return rel.repos[osName][arch]
}

// ForOSArch selects repositories for a query: the single cell when
// both are given, every arch cell under an OS, or the full matrix.
func (rel *Release) ForOSArch(osName, arch string) []*Repository {
	var out []*Repository
	if osName != "" {
		if arch != "" {
			if r := rel.repos[osName][arch]; r != nil {
				out = append(out, r)
			}
			return out
		}
		for _, a := range rel.Architectures(osName) {
			out = append(out, rel.repos[osName][a])
		}
		return out
	}
	for _, o := range rel.OperatingSystems() {
		for _, a := range rel.Architectures(o) {
			out = append(out, rel.repos[o][a])
		}
	}
	return out
}

// ForPackage routes a package to the repositories it belongs in.
func (rel *Release) ForPackage(pkg pkginfo.Package) []*Repository {
	return rel.route(rel, pkg)
}

// Packages fans the query out across every repository selected by the
// query's OS/arch filter and concatenates the results.
func (rel *Release) Packages(q Query) []pkginfo.Package {
	var out []pkginfo.Package
	for _, r := range rel.ForOSArch(q.OS, q.Arch) {
		out = append(out, r.Packages(q)...)
	}
	return out
}

// IsNewer reports whether any repository this package routes to would
// consider it newer than its current contents.
func (rel *Release) IsNewer(pkg pkginfo.Package) bool {
	for _, r := range rel.ForPackage(pkg) {
		if r.IsNewer(pkg) {
			return true
		}
	}
	return false
}

// Contains reports whether the package is present in its cell.
func (rel *Release) Contains(pkg pkginfo.Package) bool {
	v := pkg.Version
	return len(rel.Packages(Query{Name: pkg.Name, OS: pkg.OS, Arch: pkg.Arch, Version: &v})) > 0
}

// AddPackage inserts the package into every repository it routes to
// and returns the new metadata values bound to their new locations.
// Failures in one cell do not stop the others; they are joined.
func (rel *Release) AddPackage(ctx context.Context, pkg pkginfo.Package, updateMetadata bool) ([]pkginfo.Package, error) {
	var (
		added []pkginfo.Package
		errs  []error
	)
	for _, r := range rel.ForPackage(pkg) {
		np, err := r.AddPackage(ctx, pkg, updateMetadata)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		added = append(added, np)
	}
	return added, errors.Join(errs...)
}

// UpdateMetadata flushes deferred index regeneration on every selected
// repository. Regeneration failures are joined, not short-circuited.
func (rel *Release) UpdateMetadata(ctx context.Context, osName, arch string, force bool) error {
	var errs []error
	for _, r := range rel.ForOSArch(osName, arch) {
		if err := r.UpdateMetadata(ctx, force); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RouteByOSArch is the default routing: a package belongs in the
// single cell matching its own OS and arch.
func RouteByOSArch(rel *Release, pkg pkginfo.Package) []*Repository {
	if r := rel.repos[pkg.OS][pkg.Arch]; r != nil {
		return []*Repository{r}
	}
	return nil
}

// RouteDebArch routes like RouteByOSArch except that "all" artifacts
// are filed under the source cell, where apt keeps arch-independent
// packages.
func RouteDebArch(rel *Release, pkg pkginfo.Package) []*Repository {
	arch := pkg.Arch
	if arch == "all" {
		arch = "src"
	}
	if r := rel.repos[pkg.OS][arch]; r != nil {
		return []*Repository{r}
	}
	return nil
}

// RouteYumArch fans noarch (and 32-bit x86 variants, which share
// repositories) into every non-source architecture cell of the OS;
// anything else goes to its own cell.
func RouteYumArch(rel *Release, pkg pkginfo.Package) []*Repository {
	switch pkg.Arch {
	case "noarch", "i686", "i386":
		var out []*Repository
		for _, arch := range rel.Architectures(pkg.OS) {
			if arch == "src" {
				continue
			}
			out = append(out, rel.repos[pkg.OS][arch])
		}
		return out
	default:
		return RouteByOSArch(rel, pkg)
	}
}

// RouteSingleCell routes every package of an OS into that OS's sole
// repository, for ecosystems whose tree has no architecture split
// (zypper description trees, source tarball trees).
func RouteSingleCell(rel *Release, pkg pkginfo.Package) []*Repository {
	var out []*Repository
	for _, arch := range rel.Architectures(pkg.OS) {
		out = append(out, rel.repos[pkg.OS][arch])
	}
	return out
}
