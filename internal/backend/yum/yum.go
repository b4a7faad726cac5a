// Package yum manages createrepo-style rpm repository trees. Package
// metadata is read from the repodata/ primary index, either the
// primary.xml.gz document or the primary_db SQLite payload, and
// regenerated by invoking createrepo.
package yum

import (
	"compress/bzip2"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/frederic-klein/yarm/internal/backend"
	"github.com/frederic-klein/yarm/internal/pkginfo"
	"github.com/frederic-klein/yarm/internal/repo"
	"github.com/frederic-klein/yarm/internal/version"
)

// Backend implements the metadata capability for yum trees. Each
// partition directory is one <os>/<arch> repository with its own
// repodata/.
type Backend struct {
	own backend.Ownership
}

func New(own backend.Ownership) *Backend {
	return &Backend{own: own}
}

func (b *Backend) Ecosystem() string { return "yum" }

// List locates the primary index through repodata/repomd.xml and
// parses it. The SQLite primary_db is preferred; the XML document is
// the fallback. A missing repomd.xml means an empty partition.
func (b *Backend) List(part backend.Partition) ([]pkginfo.Package, error) {
	repomdPath := filepath.Join(part.Dir, "repodata", "repomd.xml")
	data, err := os.ReadFile(repomdPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &backend.IndexError{Partition: part, Err: err}
	}

	dbHref, xmlHref, err := primaryLocations(data)
	if err != nil {
		return nil, &backend.IndexError{Partition: part, Err: err}
	}

	var pkgs []pkginfo.Package
	switch {
	case dbHref != "":
		pkgs, err = b.parsePrimaryDB(filepath.Join(part.Dir, dbHref), part)
	case xmlHref != "":
		pkgs, err = b.parsePrimaryXML(filepath.Join(part.Dir, xmlHref), part)
	default:
		err = fmt.Errorf("repomd.xml declares no primary index")
	}
	if err != nil {
		return nil, &backend.IndexError{Partition: part, Err: err}
	}
	return pkgs, nil
}

type repomd struct {
	Data []struct {
		Type     string `xml:"type,attr"`
		Location struct {
			Href string `xml:"href,attr"`
		} `xml:"location"`
	} `xml:"data"`
}

func primaryLocations(data []byte) (dbHref, xmlHref string, err error) {
	var doc repomd
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", "", fmt.Errorf("parsing repomd.xml: %w", err)
	}
	for _, d := range doc.Data {
		switch d.Type {
		case "primary_db":
			dbHref = d.Location.Href
		case "primary":
			xmlHref = d.Location.Href
		}
	}
	return dbHref, xmlHref, nil
}

type primaryXML struct {
	Packages []struct {
		Name    string `xml:"name"`
		Arch    string `xml:"arch"`
		Version struct {
			Ver string `xml:"ver,attr"`
			Rel string `xml:"rel,attr"`
		} `xml:"version"`
		Location struct {
			Href string `xml:"href,attr"`
		} `xml:"location"`
		Format struct {
			SourceRPM string `xml:"sourcerpm"`
		} `xml:"format"`
	} `xml:"package"`
}

func (b *Backend) parsePrimaryXML(path string, part backend.Partition) ([]pkginfo.Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	var doc primaryXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	pkgs := make([]pkginfo.Package, 0, len(doc.Packages))
	for _, p := range doc.Packages {
		pkgs = append(pkgs, rpmPackage(
			p.Name, p.Version.Ver, p.Version.Rel, p.Location.Href, p.Arch, p.Format.SourceRPM, part))
	}
	return pkgs, nil
}

// parsePrimaryDB reads the packages table of a primary_db SQLite
// index, decompressing the bz2 payload to a scratch file first.
func (b *Backend) parsePrimaryDB(path string, part backend.Partition) ([]pkginfo.Package, error) {
	dbPath := path
	if strings.HasSuffix(path, ".bz2") {
		tmp, err := decompressBz2(path)
		if err != nil {
			return nil, err
		}
		defer os.Remove(tmp)
		dbPath = tmp
	}

	conn, err := sqlite.OpenConn(dbPath, sqlite.OpenReadOnly)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	defer conn.Close()

	var pkgs []pkginfo.Package
	err = sqlitex.ExecuteTransient(conn, `
		SELECT name, version, release, location_href, arch, rpm_sourcerpm
		FROM packages`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			pkgs = append(pkgs, rpmPackage(
				stmt.ColumnText(0), stmt.ColumnText(1), stmt.ColumnText(2),
				stmt.ColumnText(3), stmt.ColumnText(4), stmt.ColumnText(5), part))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", dbPath, err)
	}
	return pkgs, nil
}

func decompressBz2(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	tmp, err := os.CreateTemp("", "primary_db-*.sqlite")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, bzip2.NewReader(f)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("decompressing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// rpmPackage builds package metadata for one primary index row. An
// rpm without a sourcerpm reference (a source rpm itself) references
// its own name-version-release.
func rpmPackage(name, ver, rel, href, arch, sourceRPM string, part backend.Partition) pkginfo.Package {
	if sourceRPM == "" {
		sourceRPM = name + "-" + ver + "-" + rel + ".src.rpm"
	}
	return pkginfo.Package{
		Name:    name,
		Version: version.ParseWithRelease(ver, rel),
		Path:    filepath.Join(part.Dir, href),
		Arch:    arch,
		Source:  sourceRPM,
		OS:      part.OS,
	}
}

// Install copies the rpm into the partition directory. Already-present
// files are left untouched.
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

// Regenerate rebuilds the repodata/ index with createrepo.
func (b *Backend) Regenerate(ctx context.Context, part backend.Partition) error {
	if err := backend.EnsureDir(part.Dir, filepath.Dir(part.Dir), b.own); err != nil {
		return err
	}
	return backend.Run(ctx, "", "createrepo", "-d", part.Dir)
}

// NewRelease builds a yum release rooted at dir from a map of OS name
// to its architecture directories. The SRPMS directory is keyed as the
// "src" cell.
func NewRelease(name, dir string, oses map[string][]string, b backend.Backend) (*repo.Release, error) {
	rel := repo.NewRelease(name, repo.RouteYumArch)
	for osName, arches := range oses {
		for _, arch := range arches {
			key := arch
			if arch == "SRPMS" {
				key = "src"
			}
			part := backend.Partition{
				Ecosystem: "yum",
				OS:        osName,
				Arch:      key,
				Dir:       filepath.Join(dir, osName, arch),
			}
			r, err := repo.NewRepository(b, part)
			if err != nil {
				return nil, err
			}
			rel.AddRepository(osName, key, r)
		}
	}
	return rel, nil
}

// FindOperatingSystems scans a release tree for <osname>/<osversion>
// directories and their architecture subdirectories. Zypper-managed
// trees (sles) live alongside and are skipped here.
func FindOperatingSystems(dir string) (map[string][]string, error) {
	oses := make(map[string][]string)
	names, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return oses, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, name := range names {
		if !name.IsDir() || name.Name() == "sles" {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(dir, name.Name()))
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", filepath.Join(dir, name.Name()), err)
		}
		for _, ver := range versions {
			if !ver.IsDir() {
				continue
			}
			osName := name.Name() + "/" + ver.Name()
			arches, err := os.ReadDir(filepath.Join(dir, osName))
			if err != nil {
				return nil, fmt.Errorf("listing %s: %w", filepath.Join(dir, osName), err)
			}
			for _, arch := range arches {
				if arch.IsDir() {
					oses[osName] = append(oses[osName], arch.Name())
				}
			}
		}
	}
	return oses, nil
}

// NewCache builds the cache release over a mirrored yum tree.
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
