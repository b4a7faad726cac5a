package repo

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/frederic-klein/yarm/internal/pkginfo"
	"github.com/frederic-klein/yarm/internal/version"
)

// CacheReleaseName is the reserved release name aliasing the manager's
// cache.
const CacheReleaseName = "cache"

// Manager owns the build cache and the named releases of one packaging
// ecosystem, and implements promotion between them. It is built once
// per invocation from the on-disk trees and discarded afterwards;
// durable state lives entirely in the filesystem.
type Manager struct {
	cache     *Cache
	releases  map[string]*Release
	normalize func(name string) string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNameNormalizer installs an ecosystem-specific package name
// normalizer applied to user-supplied name filters (apt package names
// use dashes where tarball names use underscores).
func WithNameNormalizer(fn func(string) string) ManagerOption {
	return func(m *Manager) {
		m.normalize = fn
	}
}

// NewManager creates a manager over a cache (which may be nil) and a
// set of named releases.
func NewManager(cache *Cache, releases map[string]*Release, opts ...ManagerOption) *Manager {
	m := &Manager{
		cache:    cache,
		releases: releases,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cache returns the manager's build cache, or nil.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Release resolves a release by name. The name "cache" is reserved for
// the cache's release.
func (m *Manager) Release(name string) (*Release, error) {
	if name == CacheReleaseName {
		if m.cache == nil {
			return nil, errors.New("no build cache configured")
		}
		return m.cache.Release, nil
	}
	rel, ok := m.releases[name]
	if !ok {
		return nil, fmt.Errorf("unknown release %q", name)
	}
	return rel, nil
}

// PromoteOptions filter one promotion pass.
type PromoteOptions struct {
	// From names the source release; empty means the build cache.
	From string
	// To names the destination release.
	To string
	// OS restricts the pass to one operating system.
	OS string
	// Name restricts the pass to one package name.
	Name string
	// Version restricts the pass to one version; only meaningful
	// together with Name.
	Version string
	// DryRun computes the promotion set without copying anything.
	DryRun bool
	// Exclude holds anchored regular expressions; packages whose name
	// matches any of them are skipped.
	Exclude []string
}

// Promote finds packages in the source release whose source builds are
// newer than what the destination holds, copies them over and
// regenerates the destination's metadata once per touched repository.
// It returns every package promoted (or, for a dry run, every package
// that would have been). Re-running an identical promotion after a
// successful pass yields an empty result.
//
// A malformed exclusion pattern aborts the call before anything is
// examined. Copy and regeneration failures do not stop the batch; they
// are accumulated and returned together once every candidate has been
// attempted.
func (m *Manager) Promote(ctx context.Context, opts PromoteOptions) ([]pkginfo.Package, error) {
	excludes, err := compilePatterns(opts.Exclude)
	if err != nil {
		return nil, err
	}

	fromName := opts.From
	if fromName == "" {
		fromName = CacheReleaseName
	}
	from, err := m.Release(fromName)
	if err != nil {
		return nil, err
	}
	to, err := m.Release(opts.To)
	if err != nil {
		return nil, err
	}

	frontier := Query{
		Name:       m.normalizeName(opts.Name),
		OS:         opts.OS,
		NewestOnly: true,
	}
	if opts.Version != "" {
		v := version.Parse(opts.Version)
		frontier.Version = &v
	}

	var (
		promoted []pkginfo.Package
		errs     []error
		seen     = make(map[string]bool)
	)
	for _, src := range from.Packages(frontier) {
		// One source build may surface several frontier entries;
		// process it once per OS.
		key := src.Source + ":" + src.OS
		if seen[key] {
			continue
		}
		seen[key] = true

		src := src
		for _, pkg := range from.Packages(Query{Source: &src}) {
			if matchAny(excludes, pkg.Name) {
				continue
			}
			if !to.IsNewer(pkg) {
				continue
			}
			if !opts.DryRun {
				if _, err := to.AddPackage(ctx, pkg, false); err != nil {
					errs = append(errs, err)
					continue
				}
			}
			promoted = append(promoted, pkg)
		}
	}

	if !opts.DryRun {
		// One deferred flush per touched repository, regardless of how
		// many packages landed in it.
		if err := to.UpdateMetadata(ctx, "", "", false); err != nil {
			errs = append(errs, err)
		}
	}
	return promoted, errors.Join(errs...)
}

func (m *Manager) normalizeName(name string) string {
	if name == "" || m.normalize == nil {
		return name
	}
	return m.normalize(name)
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			return nil, fmt.Errorf("invalid exclusion pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(patterns []*regexp.Regexp, name string) bool {
	for _, re := range patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
