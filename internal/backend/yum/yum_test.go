package yum

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/frederic-klein/yarm/internal/backend"
)

const repomdXML = `<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
%s</repomd>
`

const primaryXMLDoc = `<?xml version="1.0" encoding="UTF-8"?>
<metadata xmlns="http://linux.duke.edu/metadata/common" xmlns:rpm="http://linux.duke.edu/metadata/rpm" packages="2">
  <package type="rpm">
    <name>mytool</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="1.2.3" rel="1.el7"/>
    <location href="mytool-1.2.3-1.el7.x86_64.rpm"/>
    <format>
      <rpm:sourcerpm>mytool-1.2.3-1.el7.src.rpm</rpm:sourcerpm>
    </format>
  </package>
  <package type="rpm">
    <name>mytool</name>
    <arch>src</arch>
    <version epoch="0" ver="1.2.3" rel="1.el7"/>
    <location href="mytool-1.2.3-1.el7.src.rpm"/>
    <format>
      <rpm:sourcerpm></rpm:sourcerpm>
    </format>
  </package>
</metadata>
`

func writeRepomd(t *testing.T, dir string, data string) {
	t.Helper()
	repodata := filepath.Join(dir, "repodata")
	if err := os.MkdirAll(repodata, 0o755); err != nil {
		t.Fatal(err)
	}
	content := fmt.Sprintf(repomdXML, data)
	if err := os.WriteFile(filepath.Join(repodata, "repomd.xml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writePrimaryXML(t *testing.T, dir string) {
	t.Helper()
	writeRepomd(t, dir, `  <data type="primary">
    <location href="repodata/primary.xml.gz"/>
  </data>
`)
	f, err := os.Create(filepath.Join(dir, "repodata", "primary.xml.gz"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(primaryXMLDoc)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

func writePrimaryDB(t *testing.T, dir string) {
	t.Helper()
	writeRepomd(t, dir, `  <data type="primary_db">
    <location href="repodata/primary.sqlite"/>
  </data>
`)
	conn, err := sqlite.OpenConn(filepath.Join(dir, "repodata", "primary.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	err = sqlitex.ExecuteScript(conn, `
		CREATE TABLE packages (
			name TEXT, version TEXT, release TEXT,
			location_href TEXT, arch TEXT, rpm_sourcerpm TEXT
		);
		INSERT INTO packages VALUES
			('mytool', '1.2.3', '1.el7', 'mytool-1.2.3-1.el7.x86_64.rpm', 'x86_64', 'mytool-1.2.3-1.el7.src.rpm'),
			('mytool-doc', '1.2.3', '1.el7', 'mytool-doc-1.2.3-1.el7.noarch.rpm', 'noarch', 'mytool-1.2.3-1.el7.src.rpm');
	`, nil)
	if err != nil {
		t.Fatal(err)
	}
}

func TestListPrimaryXML(t *testing.T) {
	dir := t.TempDir()
	writePrimaryXML(t, dir)
	part := backend.Partition{Ecosystem: "yum", OS: "el/7", Arch: "x86_64", Dir: dir}

	b := New(backend.Ownership{})
	pkgs, err := b.List(part)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("List() returned %d packages, want 2", len(pkgs))
	}

	got := pkgs[0]
	if got.Name != "mytool" || got.Arch != "x86_64" || got.OS != "el/7" {
		t.Errorf("unexpected package %+v", got)
	}
	if got.Version.String() != "1.2.3-1.el7" {
		t.Errorf("Version = %s, want 1.2.3-1.el7", got.Version)
	}
	if got.Source != "mytool-1.2.3-1.el7.src.rpm" {
		t.Errorf("Source = %q", got.Source)
	}
	if want := filepath.Join(dir, "mytool-1.2.3-1.el7.x86_64.rpm"); got.Path != want {
		t.Errorf("Path = %q, want %q", got.Path, want)
	}

	// Source rpms carry no sourcerpm field and reference themselves.
	if pkgs[1].Source != "mytool-1.2.3-1.el7.src.rpm" {
		t.Errorf("source rpm Source = %q", pkgs[1].Source)
	}
}

func TestListPrimaryDB(t *testing.T) {
	dir := t.TempDir()
	writePrimaryDB(t, dir)
	part := backend.Partition{Ecosystem: "yum", OS: "el/7", Arch: "x86_64", Dir: dir}

	b := New(backend.Ownership{})
	pkgs, err := b.List(part)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("List() returned %d packages, want 2", len(pkgs))
	}
	byName := map[string]string{}
	for _, pkg := range pkgs {
		byName[pkg.Name] = pkg.Arch
	}
	if byName["mytool"] != "x86_64" || byName["mytool-doc"] != "noarch" {
		t.Errorf("unexpected packages %v", byName)
	}
}

func TestListMissingRepomdIsEmpty(t *testing.T) {
	part := backend.Partition{Ecosystem: "yum", OS: "el/7", Arch: "x86_64", Dir: t.TempDir()}
	b := New(backend.Ownership{})
	pkgs, err := b.List(part)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pkgs) != 0 {
		t.Errorf("List() on empty tree returned %d packages", len(pkgs))
	}
}

func TestListCorruptRepomd(t *testing.T) {
	dir := t.TempDir()
	repodata := filepath.Join(dir, "repodata")
	if err := os.MkdirAll(repodata, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repodata, "repomd.xml"), []byte("<repomd"), 0o644); err != nil {
		t.Fatal(err)
	}
	part := backend.Partition{Ecosystem: "yum", OS: "el/7", Arch: "x86_64", Dir: dir}

	b := New(backend.Ownership{})
	_, err := b.List(part)
	if _, ok := err.(*backend.IndexError); !ok {
		t.Fatalf("List() error = %v, want *backend.IndexError", err)
	}
}

func TestListRepomdWithoutPrimary(t *testing.T) {
	dir := t.TempDir()
	writeRepomd(t, dir, `  <data type="filelists">
    <location href="repodata/filelists.xml.gz"/>
  </data>
`)
	part := backend.Partition{Ecosystem: "yum", OS: "el/7", Arch: "x86_64", Dir: dir}
	b := New(backend.Ownership{})
	if _, err := b.List(part); err == nil {
		t.Fatal("List() accepted a repomd.xml without a primary index")
	}
}

func TestFindOperatingSystems(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{
		"el/7/x86_64", "el/7/SRPMS", "fedora/24/x86_64", "sles/11/x86_64",
	} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	oses, err := FindOperatingSystems(dir)
	if err != nil {
		t.Fatalf("FindOperatingSystems() error = %v", err)
	}
	if len(oses) != 2 {
		t.Fatalf("found %d operating systems, want 2: %v", len(oses), oses)
	}
	if len(oses["el/7"]) != 2 {
		t.Errorf("el/7 arches = %v", oses["el/7"])
	}
	if _, ok := oses["sles/11"]; ok {
		t.Error("sles trees must be left to the zypper backend")
	}

	if oses, err := FindOperatingSystems(filepath.Join(dir, "nope")); err != nil || len(oses) != 0 {
		t.Errorf("missing tree = %v, %v", oses, err)
	}
}

func TestNewReleaseBuildsMatrix(t *testing.T) {
	dir := t.TempDir()
	b := New(backend.Ownership{})
	rel, err := NewRelease("unstable", dir, map[string][]string{
		"el/7":      {"SRPMS", "x86_64"},
		"fedora/24": {"x86_64"},
	}, b)
	if err != nil {
		t.Fatalf("NewRelease() error = %v", err)
	}
	if got := rel.ForOSArch("", ""); len(got) != 3 {
		t.Errorf("release has %d cells, want 3", len(got))
	}
	r := rel.Repository("el/7", "src")
	if r == nil {
		t.Fatal("SRPMS must be keyed as src")
	}
	if want := filepath.Join(dir, "el/7", "SRPMS"); r.Partition().Dir != want {
		t.Errorf("src cell dir = %q, want %q", r.Partition().Dir, want)
	}
}
