// Package zypper manages YaST-style SUSE repository trees. Package
// metadata lives in the line-oriented setup/descr/packages file and is
// regenerated with create_package_descr.
package zypper

import (
	"bufio"
	"context"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/frederic-klein/yarm/internal/backend"
	"github.com/frederic-klein/yarm/internal/pkginfo"
	"github.com/frederic-klein/yarm/internal/repo"
	"github.com/frederic-klein/yarm/internal/version"
)

// rpmsDirs are scaffolded on regeneration so create_package_descr
// always has the full architecture layout to scan.
var rpmsDirs = []string{"media.1", "RPMS/noarch", "RPMS/src", "RPMS/x86_64"}

// Backend implements the metadata capability for zypper trees. Each
// partition directory holds one OS release with RPMS/ and setup/descr/.
type Backend struct {
	label string
	own   backend.Ownership
}

func New(label string, own backend.Ownership) *Backend {
	if label == "" {
		label = "Packages"
	}
	return &Backend{label: label, own: own}
}

func (b *Backend) Ecosystem() string { return "zypper" }

// List parses the partition's setup/descr/packages file. A missing
// file means a not-yet-generated, empty partition.
func (b *Backend) List(part backend.Partition) ([]pkginfo.Package, error) {
	f, err := os.Open(filepath.Join(part.Dir, "setup", "descr", "packages"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &backend.IndexError{Partition: part, Err: err}
	}
	defer f.Close()

	pkgs, err := parseDescr(f, part)
	if err != nil {
		return nil, &backend.IndexError{Partition: part, Err: err}
	}
	return pkgs, nil
}

type descrEntry struct {
	name, ver, rel, arch    string
	srcName, srcVer, srcRel string
	location                string
}

// parseDescr reads the =Pkg:, =Src: and =Loc: tags of each package
// block. Blocks are delimited by the next =Pkg: tag.
func parseDescr(f *os.File, part backend.Partition) ([]pkginfo.Package, error) {
	var (
		pkgs []pkginfo.Package
		cur  *descrEntry
	)
	flush := func() error {
		if cur == nil {
			return nil
		}
		if cur.location == "" {
			return fmt.Errorf("package block for %q has no =Loc: tag", cur.name)
		}
		pkgs = append(pkgs, descrPackage(*cur, part))
		cur = nil
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		tag, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		switch tag {
		case "=Pkg":
			if err := flush(); err != nil {
				return nil, err
			}
			if len(fields) != 4 {
				return nil, fmt.Errorf("malformed =Pkg: tag %q", rest)
			}
			cur = &descrEntry{name: fields[0], ver: fields[1], rel: fields[2], arch: fields[3]}
		case "=Src":
			if cur != nil && len(fields) == 4 {
				cur.srcName, cur.srcVer, cur.srcRel = fields[0], fields[1], fields[2]
			}
		case "=Loc":
			if cur != nil && len(fields) >= 2 {
				cur.location = fields[1]
			}
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

// descrPackage builds package metadata for one descr block. Source
// rpms reference their own name-version-release; binaries reference
// the =Src: tag.
func descrPackage(e descrEntry, part backend.Partition) pkginfo.Package {
	src := strings.Join([]string{e.srcName, e.srcVer, e.srcRel}, "-")
	if e.arch == "src" || e.srcName == "" {
		src = strings.Join([]string{e.name, e.ver, e.rel}, "-")
	}
	return pkginfo.Package{
		Name:    e.name,
		Version: version.ParseWithRelease(e.ver, e.rel),
		Path:    filepath.Join(part.Dir, "RPMS", e.arch, e.location),
		Arch:    e.arch,
		Source:  src,
		OS:      part.OS,
	}
}

// Install copies the rpm into the RPMS/<arch> directory of the tree.
func (b *Backend) Install(ctx context.Context, part backend.Partition, pkg pkginfo.Package) (string, error) {
	destDir := filepath.Join(part.Dir, "RPMS", pkg.Arch)
	if err := backend.EnsureDir(destDir, part.Dir, b.own); err != nil {
		return "", err
	}
	dest := filepath.Join(destDir, filepath.Base(pkg.Path))
	if err := backend.CopyFile(pkg.Path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Regenerate scaffolds the YaST tree layout, rebuilds setup/descr/
// with create_package_descr and rewrites the content file with META
// checksums for the generated descr files.
func (b *Backend) Regenerate(ctx context.Context, part backend.Partition) error {
	for _, sub := range rpmsDirs {
		if err := backend.EnsureDir(filepath.Join(part.Dir, sub), part.Dir, b.own); err != nil {
			return err
		}
	}

	mediaPath := filepath.Join(part.Dir, "media.1", "media")
	if _, err := os.Stat(mediaPath); os.IsNotExist(err) {
		media := fmt.Sprintf("%s\n%s\n1\n", b.label, time.Now().Format("20060102150405"))
		if err := os.WriteFile(mediaPath, []byte(media), 0o664); err != nil {
			return fmt.Errorf("writing %s: %w", mediaPath, err)
		}
	}

	if err := b.writeDirectoryYast(part.Dir); err != nil {
		return err
	}
	if err := backend.Run(ctx, part.Dir, "create_package_descr", "-d", "RPMS"); err != nil {
		return err
	}
	return b.writeContent(part.Dir)
}

func (b *Backend) writeDirectoryYast(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}
	var buf strings.Builder
	for _, e := range entries {
		buf.WriteString(e.Name())
		buf.WriteByte('\n')
	}
	path := filepath.Join(dir, "directory.yast")
	if err := os.WriteFile(path, []byte(buf.String()), 0o664); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// writeContent emits the content file describing the tree, with a
// META SHA1 line per generated descr file.
func (b *Backend) writeContent(dir string) error {
	var buf strings.Builder
	fmt.Fprintf(&buf, `PRODUCT %s
VERSION 1
LABEL %s (SUSE LINUX)
VENDOR %s
ARCH.x86_64 x86_64 noarch
DEFAULTBASE x86_64
DESCRDIR setup/descr
DATADIR RPMS
`, b.label, b.label, b.label)

	descrDir := filepath.Join(dir, "setup", "descr")
	entries, err := os.ReadDir(descrDir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", descrDir, err)
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(descrDir, e.Name()))
		if err != nil {
			return err
		}
		fmt.Fprintf(&buf, "META SHA1 %x  %s\n", sha1.Sum(data), e.Name())
	}

	path := filepath.Join(dir, "content")
	if err := os.WriteFile(path, []byte(buf.String()), 0o664); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// NewRelease builds a zypper release rooted at dir with one repository
// per OS. Zypper trees have no per-architecture split; the single cell
// is keyed "rpms".
func NewRelease(name, dir string, oses []string, b backend.Backend) (*repo.Release, error) {
	rel := repo.NewRelease(name, repo.RouteSingleCell)
	for _, osName := range oses {
		part := backend.Partition{
			Ecosystem: "zypper",
			OS:        osName,
			Arch:      "rpms",
			Dir:       filepath.Join(dir, osName),
		}
		r, err := repo.NewRepository(b, part)
		if err != nil {
			return nil, err
		}
		rel.AddRepository(osName, "rpms", r)
	}
	return rel, nil
}

// FindOperatingSystems lists the sles/<version> trees under dir.
func FindOperatingSystems(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, "sles"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", filepath.Join(dir, "sles"), err)
	}
	var oses []string
	for _, e := range entries {
		if e.IsDir() {
			oses = append(oses, "sles/"+e.Name())
		}
	}
	return oses, nil
}

// NewCache builds the cache release over a mirrored zypper tree.
func NewCache(dir string, b backend.Backend) (*repo.Cache, error) {
	oses, err := FindOperatingSystems(dir)
	if err != nil {
		return nil, err
	}
	rel, err := NewRelease(repo.CacheReleaseName, dir, oses, b)
	if err != nil {
		return nil, err
	}
	return repo.NewCache(rel, dir), nil
}
