// Package tarball manages flat source tarball trees. Package metadata
// is derived from the artifact filenames themselves; regeneration
// writes checksum companion files next to each artifact.
package tarball

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/frederic-klein/yarm/internal/backend"
	"github.com/frederic-klein/yarm/internal/pkginfo"
	"github.com/frederic-klein/yarm/internal/repo"
	"github.com/frederic-klein/yarm/internal/version"
)

// DefaultPattern matches name-version[-release][-src].tar.gz artifact
// names. Trees with other layouts configure their own pattern.
const DefaultPattern = `^(?P<name>[a-z_][a-z0-9_]*(?:-[a-z_][a-z0-9_]*)*)-(?P<version>[0-9][0-9a-z.]*)(?:-(?P<release>[0-9]+))?(?:-src)?\.tar\.gz$`

// digestSuffixes name the checksum companion files written per
// artifact on regeneration.
var digestSuffixes = []struct {
	ext string
	fn  func() hash.Hash
}{
	{".md5", md5.New},
	{".sha1", sha1.New},
	{".sha512", sha512.New},
}

// Backend implements the metadata capability for tarball trees. The
// filename pattern must expose name and version capture groups;
// release and arch groups are optional.
type Backend struct {
	pattern *regexp.Regexp
	own     backend.Ownership
	latest  bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithLatestAliases makes Regenerate maintain a "latest"-versioned
// copy of the newest artifact of each package, the convention
// installer trees use so download links never need a version in them.
func WithLatestAliases() Option {
	return func(b *Backend) {
		b.latest = true
	}
}

func New(pattern string, own backend.Ownership, opts ...Option) (*Backend, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling artifact pattern: %w", err)
	}
	names := map[string]bool{}
	for _, n := range re.SubexpNames() {
		names[n] = true
	}
	if !names["name"] || !names["version"] {
		return nil, fmt.Errorf("artifact pattern needs name and version capture groups")
	}
	b := &Backend{pattern: re, own: own}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) Ecosystem() string { return "tarball" }

// List derives package metadata from the artifact filenames in the
// partition directory. Files the pattern does not match, checksum
// companions included, are skipped. A missing directory means an
// empty partition.
func (b *Backend) List(part backend.Partition) ([]pkginfo.Package, error) {
	entries, err := os.ReadDir(part.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &backend.IndexError{Partition: part, Err: err}
	}

	var pkgs []pkginfo.Package
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := b.pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		groups := make(map[string]string)
		for i, n := range b.pattern.SubexpNames() {
			if n != "" {
				groups[n] = m[i]
			}
		}
		// Latest aliases are copies of a concrete artifact, not
		// packages of their own.
		if groups["version"] == "latest" {
			continue
		}
		rel := groups["release"]
		if rel == "" {
			rel = "0"
		}
		arch := groups["arch"]
		if arch == "" {
			arch = "src"
		}
		pkgs = append(pkgs, pkginfo.Package{
			Name:    groups["name"],
			Version: version.ParseWithRelease(groups["version"], rel),
			Path:    filepath.Join(part.Dir, e.Name()),
			Arch:    arch,
			Source:  e.Name(),
			OS:      part.OS,
		})
	}
	return pkgs, nil
}

// Install copies the artifact into the partition directory.
func (b *Backend) Install(ctx context.Context, part backend.Partition, pkg pkginfo.Package) (string, error) {
	if err := backend.EnsureDir(part.Dir, filepath.Dir(part.Dir), b.own); err != nil {
		return "", err
	}
	dest := filepath.Join(part.Dir, filepath.Base(pkg.Path))
	if err := backend.CopyFile(pkg.Path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Regenerate refreshes the latest aliases when enabled, then writes
// the missing checksum companion files for every artifact in the
// partition directory.
func (b *Backend) Regenerate(ctx context.Context, part backend.Partition) error {
	if err := backend.EnsureDir(part.Dir, filepath.Dir(part.Dir), b.own); err != nil {
		return err
	}
	if b.latest {
		if err := b.refreshLatest(part.Dir); err != nil {
			return err
		}
	}
	entries, err := os.ReadDir(part.Dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", part.Dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || isDigestFile(e.Name()) {
			continue
		}
		if err := digestFile(filepath.Join(part.Dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// refreshLatest copies the newest artifact of each package over its
// "latest"-versioned alias. Existing aliases are replaced, and the
// checksum pass that follows covers the refreshed copies.
func (b *Backend) refreshLatest(dir string) error {
	pkgs, err := b.List(backend.Partition{Dir: dir})
	if err != nil {
		return err
	}

	newest := make(map[string]pkginfo.Package)
	for _, pkg := range pkgs {
		if cur, ok := newest[pkg.Name]; !ok || cur.Version.Less(pkg.Version) {
			newest[pkg.Name] = pkg
		}
	}

	for _, pkg := range newest {
		base := filepath.Base(pkg.Path)
		alias, ok := b.latestName(base)
		if !ok || alias == base {
			continue
		}
		if err := backend.ReplaceFile(pkg.Path, filepath.Join(dir, alias)); err != nil {
			return err
		}
		// The alias content changed, so its checksums must too.
		for _, d := range digestSuffixes {
			if err := os.Remove(filepath.Join(dir, alias+d.ext)); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

// latestName rewrites an artifact filename with its version group
// replaced by "latest" and its release group, dash included, removed.
func (b *Backend) latestName(name string) (string, bool) {
	idx := b.pattern.FindStringSubmatchIndex(name)
	if idx == nil {
		return "", false
	}
	verStart, verEnd := subexpSpan(b.pattern, idx, "version")
	if verStart < 0 {
		return "", false
	}
	relStart, relEnd := subexpSpan(b.pattern, idx, "release")
	if relStart < 0 {
		return name[:verStart] + "latest" + name[verEnd:], true
	}
	if relStart < verEnd {
		return "", false
	}
	if relStart > 0 && name[relStart-1] == '-' {
		relStart--
	}
	return name[:verStart] + "latest" + name[verEnd:relStart] + name[relEnd:], true
}

func subexpSpan(re *regexp.Regexp, idx []int, group string) (int, int) {
	for i, n := range re.SubexpNames() {
		if n == group && 2*i+1 < len(idx) {
			return idx[2*i], idx[2*i+1]
		}
	}
	return -1, -1
}

func isDigestFile(name string) bool {
	for _, d := range digestSuffixes {
		if strings.HasSuffix(name, d.ext) {
			return true
		}
	}
	return false
}

// digestFile writes the md5, sha1 and sha512 checksums of an artifact
// in coreutils format, skipping checksums that already exist.
func digestFile(path string) error {
	for _, d := range digestSuffixes {
		digestPath := path + d.ext
		if _, err := os.Stat(digestPath); err == nil {
			continue
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		h := d.fn()
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("hashing %s: %w", path, err)
		}

		line := fmt.Sprintf("%x  %s\n", h.Sum(nil), filepath.Base(path))
		if err := os.WriteFile(digestPath, []byte(line), 0o664); err != nil {
			return fmt.Errorf("writing %s: %w", digestPath, err)
		}
	}
	return nil
}

// NewRelease builds a single-cell tarball release over one directory.
// The cell is keyed by the release's tree name so packages listed from
// it route back to the same cell.
func NewRelease(name, treeName, dir string, b backend.Backend) (*repo.Release, error) {
	rel := repo.NewRelease(name, repo.RouteSingleCell)
	part := backend.Partition{Ecosystem: "tarball", OS: treeName, Arch: "src", Dir: dir}
	r, err := repo.NewRepository(b, part)
	if err != nil {
		return nil, err
	}
	rel.AddRepository(treeName, "src", r)
	return rel, nil
}

// NewCache builds the cache release over a mirrored tarball tree.
func NewCache(treeName, dir string, b backend.Backend) (*repo.Cache, error) {
	rel, err := NewRelease(repo.CacheReleaseName, treeName, dir, b)
	if err != nil {
		return nil, err
	}
	return repo.NewCache(rel, dir), nil
}
