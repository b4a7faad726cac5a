// Package deb manages apt repository trees through reprepro. One tree
// holds every codename and architecture cell; packages are read from
// the dists/ Packages.gz and Sources.gz indexes and inserted by
// feeding .changes files to reprepro.
package deb

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/frederic-klein/yarm/internal/backend"
	"github.com/frederic-klein/yarm/internal/pkginfo"
	"github.com/frederic-klein/yarm/internal/repo"
	"github.com/frederic-klein/yarm/internal/version"
)

const component = "contrib"

// DefaultArchitectures are the cells created for each codename. The
// "source" architecture is keyed as "src" in releases.
var DefaultArchitectures = []string{"amd64", "i386", "source"}

// Backend implements the metadata capability for apt trees.
type Backend struct {
	label string
	own   backend.Ownership
}

// New creates a deb backend. The label names the repository in
// generated conf/distributions stanzas.
func New(label string, own backend.Ownership) *Backend {
	if label == "" {
		label = "Packages"
	}
	return &Backend{label: label, own: own}
}

func (b *Backend) Ecosystem() string { return "deb" }

// List parses the partition's Packages.gz (or Sources.gz for the
// source cell) into package metadata. A missing index means an empty,
// not-yet-exported partition.
func (b *Backend) List(part backend.Partition) ([]pkginfo.Package, error) {
	f, err := os.Open(indexPath(part))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &backend.IndexError{Partition: part, Err: err}
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, &backend.IndexError{Partition: part, Err: err}
	}
	defer gz.Close()

	pkgs, err := parseIndex(gz, part)
	if err != nil {
		return nil, &backend.IndexError{Partition: part, Err: err}
	}
	return pkgs, nil
}

func indexPath(part backend.Partition) string {
	distDir := filepath.Join(part.Dir, "dists", part.OS, component)
	if part.Arch == "src" || part.Arch == "source" || part.Arch == "all" {
		return filepath.Join(distDir, "source", "Sources.gz")
	}
	return filepath.Join(distDir, "binary-"+part.Arch, "Packages.gz")
}

type stanza struct {
	name    string
	source  string
	version string
	arch    string
}

func parseIndex(r *gzip.Reader, part backend.Partition) ([]pkginfo.Package, error) {
	var (
		pkgs []pkginfo.Package
		cur  stanza
	)
	flush := func() error {
		if cur.name == "" {
			return nil
		}
		if cur.version == "" {
			return fmt.Errorf("stanza for %q has no Version field", cur.name)
		}
		pkgs = append(pkgs, stanzaPackages(cur, part)...)
		cur = stanza{}
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		field, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch field {
		case "Package":
			cur.name = value
		case "Source":
			cur.source = value
		case "Version":
			cur.version = value
		case "Architecture":
			cur.arch = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return pkgs, nil
}

// stanzaPackages turns one control stanza into package metadata. The
// artifact path is the .changes file under pool/, which is what
// reprepro consumes on insertion. Source stanzas with Architecture all
// additionally surface an arch-independent entry.
func stanzaPackages(cur stanza, part backend.Partition) []pkginfo.Package {
	ver, rel, found := strings.Cut(cur.version, "-")
	if !found {
		// Native package without a Debian revision.
		rel = "0"
	}

	poolDir := filepath.Join(part.Dir, "pool", component)
	entry := func(arch, suffix string) pkginfo.Package {
		source := cur.source
		if source == "" {
			source = cur.name
		}
		src := source + "_" + ver
		changes := fmt.Sprintf("%s-%s_%s.changes", src, rel, suffix)
		return pkginfo.Package{
			Name:    cur.name,
			Version: version.ParseWithRelease(ver, rel),
			Path:    filepath.Join(poolDir, changes[:1], source, changes),
			Arch:    arch,
			Source:  src,
			OS:      part.OS,
		}
	}

	if part.Arch == "src" {
		out := []pkginfo.Package{entry("src", "source")}
		if cur.arch == "all" {
			out = append(out, entry("all", "all"))
		}
		return out
	}
	return []pkginfo.Package{entry(part.Arch, part.Arch)}
}

// Install feeds the package's .changes file to reprepro without
// exporting indexes, so a batch of insertions costs one export. The
// returned path is where reprepro files the changes under pool/.
func (b *Backend) Install(ctx context.Context, part backend.Partition, pkg pkginfo.Package) (string, error) {
	base := filepath.Base(pkg.Path)
	srcName, _, _ := strings.Cut(pkg.Source, "_")
	destDir := filepath.Join(part.Dir, "pool", component, base[:1], srcName)
	dest := filepath.Join(destDir, base)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	if err := backend.EnsureDir(destDir, part.Dir, b.own); err != nil {
		return "", err
	}
	err := backend.Run(ctx, "", "reprepro", "--silent", "-b", part.Dir,
		"--export=never", "include", part.OS, pkg.Path)
	if err != nil {
		return "", err
	}
	return dest, nil
}

// Regenerate ensures the codename is declared in conf/distributions
// and re-exports the tree's indexes.
func (b *Backend) Regenerate(ctx context.Context, part backend.Partition) error {
	confDir := filepath.Join(part.Dir, "conf")
	if err := backend.EnsureDir(confDir, part.Dir, b.own); err != nil {
		return err
	}
	if err := b.ensureDistribution(filepath.Join(confDir, "distributions"), part.OS); err != nil {
		return err
	}
	return backend.Run(ctx, "", "reprepro", "-b", part.Dir, "export")
}

// ensureDistribution appends a stanza for the codename to the
// conf/distributions file unless one is already declared.
func (b *Backend) ensureDistribution(path, codename string) error {
	existing, err := Codenames(path)
	if err != nil {
		return err
	}
	for _, cn := range existing {
		if cn == codename {
			return nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o664)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, `
Label: %s
Codename: %s
Architectures: amd64 i386 source
Components: %s
DebIndices: Packages Release . .gz .bz2
DscIndices: Sources Release .gz .bz2
Contents: . .gz .bz2
Tracking: keep includechanges
Description: %s packages
`, b.label, codename, component, b.label)
	if err != nil {
		return fmt.Errorf("appending distribution %s: %w", codename, err)
	}
	return nil
}

// Codenames lists the distribution codenames declared in a
// conf/distributions file. A missing file yields none.
func Codenames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var codenames []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if value, ok := strings.CutPrefix(scanner.Text(), "Codename:"); ok {
			codenames = append(codenames, strings.TrimSpace(value))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return codenames, nil
}

// FindCodenames lists the codenames present under a deb tree's dists/
// directory, for trees without a conf/distributions file.
func FindCodenames(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, "dists"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", filepath.Join(dir, "dists"), err)
	}
	var codenames []string
	for _, e := range entries {
		if e.IsDir() {
			codenames = append(codenames, e.Name())
		}
	}
	return codenames, nil
}

// NewRelease builds the release for one apt tree with a repository
// cell per codename and architecture.
func NewRelease(name, dir string, codenames, arches []string, b backend.Backend) (*repo.Release, error) {
	if len(arches) == 0 {
		arches = DefaultArchitectures
	}
	rel := repo.NewRelease(name, repo.RouteDebArch)
	for _, codename := range codenames {
		for _, arch := range arches {
			key := arch
			if arch == "source" {
				key = "src"
			}
			part := backend.Partition{Ecosystem: "deb", OS: codename, Arch: key, Dir: dir}
			r, err := repo.NewRepository(b, part)
			if err != nil {
				return nil, err
			}
			rel.AddRepository(codename, key, r)
		}
	}
	return rel, nil
}

// NewCache builds the cache release over a mirrored apt tree, using
// the codenames its conf/distributions declares.
func NewCache(dir string, b backend.Backend) (*repo.Cache, error) {
	codenames, err := Codenames(filepath.Join(dir, "conf", "distributions"))
	if err != nil {
		return nil, err
	}
	rel, err := NewRelease(repo.CacheReleaseName, dir, codenames, nil, b)
	if err != nil {
		return nil, err
	}
	return repo.NewCache(rel, dir), nil
}
