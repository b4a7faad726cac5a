package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/frederic-klein/yarm/internal/backend"
	"github.com/frederic-klein/yarm/internal/pkginfo"
	"github.com/frederic-klein/yarm/internal/version"
)

var testPart = backend.Partition{Ecosystem: "fake", OS: "el/7", Arch: "x86_64", Dir: "/repo/el/7/x86_64"}

func seededRepo(t *testing.T, pkgs ...pkginfo.Package) (*Repository, *fakeBackend) {
	t.Helper()
	fb := newFakeBackend()
	fb.lists[testPart.String()] = pkgs
	r, err := NewRepository(fb, testPart)
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	return r, fb
}

func TestNewRepositoryUnreadableIndex(t *testing.T) {
	fb := newFakeBackend()
	fb.listErr = errBadIndex
	_, err := NewRepository(fb, testPart)
	var idxErr *backend.IndexError
	if !errors.As(err, &idxErr) {
		t.Fatalf("NewRepository() error = %v, want *backend.IndexError", err)
	}
	if idxErr.Partition != testPart {
		t.Errorf("IndexError.Partition = %v, want %v", idxErr.Partition, testPart)
	}
}

func TestPackagesNewestOnly(t *testing.T) {
	r, _ := seededRepo(t,
		mkpkg("x", "1.0", "1", "x86_64", "x_1.0", "el/7"),
		mkpkg("x", "1.0", "2", "x86_64", "x_1.0", "el/7"),
		mkpkg("x", "2.0", "1", "x86_64", "x_2.0", "el/7"),
	)
	got := r.Packages(Query{Name: "x", NewestOnly: true})
	if len(got) != 1 {
		t.Fatalf("newest-only returned %d packages, want 1", len(got))
	}
	if got[0].Version.String() != "2.0-1" {
		t.Errorf("newest = %s, want 2.0-1", got[0].Version)
	}
}

func TestPackagesNewestOnlyTies(t *testing.T) {
	// Two distinct releases at the same maximum version both qualify.
	r, _ := seededRepo(t,
		mkpkg("x", "1.0", "1", "x86_64", "x_1.0", "el/7"),
		mkpkg("x", "2.0", "1", "x86_64", "x_2.0", "el/7"),
		mkpkg("x", "2.0", "1", "i686", "x_2.0", "el/7"),
	)
	got := r.Packages(Query{Name: "x", NewestOnly: true})
	if len(got) != 2 {
		t.Fatalf("newest-only returned %d packages, want both ties", len(got))
	}
}

func TestPackagesFilters(t *testing.T) {
	r, _ := seededRepo(t,
		mkpkg("x", "1.0", "1", "x86_64", "x_1.0", "el/7"),
		mkpkg("x", "1.0", "1", "i686", "x_1.0", "el/7"),
		mkpkg("y", "3.0", "1", "x86_64", "y_3.0", "el/7"),
	)

	if got := r.Packages(Query{Name: "x", Arch: "i686"}); len(got) != 1 || got[0].Arch != "i686" {
		t.Errorf("arch filter returned %v", got)
	}

	v := version.Parse("1.0")
	if got := r.Packages(Query{Name: "x", Version: &v}); len(got) != 2 {
		t.Errorf("wildcard version filter returned %d packages, want 2", len(got))
	}

	if got := r.Packages(Query{}); len(got) != 3 {
		t.Errorf("unfiltered query returned %d packages, want 3", len(got))
	}

	if got := r.Packages(Query{Name: "absent"}); len(got) != 0 {
		t.Errorf("absent name returned %v", got)
	}
}

func TestPackagesBySource(t *testing.T) {
	src := mkpkg("x", "1.0", "1", "src", "x_1.0", "el/7")
	r, _ := seededRepo(t,
		src,
		mkpkg("x", "1.0", "1", "x86_64", "x_1.0", "el/7"),
		mkpkg("x-devel", "1.0", "1", "x86_64", "x_1.0", "el/7"),
		mkpkg("y", "1.0", "1", "x86_64", "y_1.0", "el/7"),
	)
	got := r.Packages(Query{Source: &src})
	if len(got) != 3 {
		t.Fatalf("source query returned %d packages, want 3", len(got))
	}
	for _, pkg := range got {
		if pkg.Source != "x_1.0" {
			t.Errorf("source query leaked %s", pkg)
		}
	}
}

func TestIsNewer(t *testing.T) {
	r, _ := seededRepo(t,
		mkpkg("x", "1.0", "1", "x86_64", "x_1.0", "el/7"),
		mkpkg("x", "2.0", "1", "x86_64", "x_2.0", "el/7"),
	)
	tests := []struct {
		name string
		pkg  pkginfo.Package
		want bool
	}{
		{"newer version", mkpkg("x", "2.1", "1", "x86_64", "x_2.1", "el/7"), true},
		{"newer release", mkpkg("x", "2.0", "2", "x86_64", "x_2.0", "el/7"), true},
		{"same version", mkpkg("x", "2.0", "1", "x86_64", "x_2.0", "el/7"), false},
		{"older version", mkpkg("x", "1.5", "1", "x86_64", "x_1.5", "el/7"), false},
		{"unknown name", mkpkg("z", "0.1", "1", "x86_64", "z_0.1", "el/7"), true},
		{"unknown arch", mkpkg("x", "1.0", "1", "aarch64", "x_1.0", "el/7"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.IsNewer(tt.pkg); got != tt.want {
				t.Errorf("IsNewer(%s) = %v, want %v", tt.pkg, got, tt.want)
			}
		})
	}
}

func TestContains(t *testing.T) {
	r, _ := seededRepo(t, mkpkg("x", "1.0", "1", "x86_64", "x_1.0", "el/7"))
	if !r.Contains(mkpkg("x", "1.0", "1", "x86_64", "x_1.0", "el/7")) {
		t.Error("Contains() = false for present package")
	}
	if r.Contains(mkpkg("x", "1.1", "1", "x86_64", "x_1.1", "el/7")) {
		t.Error("Contains() = true for absent version")
	}
}

func TestAddPackageDefersRegeneration(t *testing.T) {
	r, fb := seededRepo(t)
	added, err := r.AddPackage(context.Background(), mkpkg("x", "1.0", "1", "x86_64", "x_1.0", "el/7"), false)
	if err != nil {
		t.Fatalf("AddPackage() error = %v", err)
	}
	if added.Path != "/repo/el/7/x86_64/x_1.0-1_x86_64.pkg" {
		t.Errorf("added.Path = %q", added.Path)
	}
	if !r.Dirty() {
		t.Error("repository should be dirty after deferred add")
	}
	if fb.regens[testPart.String()] != 0 {
		t.Error("deferred add must not regenerate")
	}

	if err := r.UpdateMetadata(context.Background(), false); err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}
	if r.Dirty() {
		t.Error("repository should be clean after UpdateMetadata")
	}
	if fb.regens[testPart.String()] != 1 {
		t.Errorf("regens = %d, want 1", fb.regens[testPart.String()])
	}
}

func TestAddPackageImmediateRegeneration(t *testing.T) {
	r, fb := seededRepo(t)
	if _, err := r.AddPackage(context.Background(), mkpkg("x", "1.0", "1", "x86_64", "x_1.0", "el/7"), true); err != nil {
		t.Fatalf("AddPackage() error = %v", err)
	}
	if r.Dirty() {
		t.Error("repository should be clean after immediate add")
	}
	if fb.regens[testPart.String()] != 1 {
		t.Errorf("regens = %d, want 1", fb.regens[testPart.String()])
	}
}

func TestUpdateMetadataIdempotent(t *testing.T) {
	r, fb := seededRepo(t)
	if err := r.UpdateMetadata(context.Background(), false); err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}
	if fb.regens[testPart.String()] != 0 {
		t.Error("clean repository must not regenerate without force")
	}
	if err := r.UpdateMetadata(context.Background(), true); err != nil {
		t.Fatalf("UpdateMetadata(force) error = %v", err)
	}
	if fb.regens[testPart.String()] != 1 {
		t.Errorf("regens = %d, want 1 after force", fb.regens[testPart.String()])
	}
}

func TestUpdateMetadataFailureStaysDirty(t *testing.T) {
	r, fb := seededRepo(t)
	if _, err := r.AddPackage(context.Background(), mkpkg("x", "1.0", "1", "x86_64", "x_1.0", "el/7"), false); err != nil {
		t.Fatalf("AddPackage() error = %v", err)
	}
	fb.regenErr = errors.New("createrepo exploded")
	err := r.UpdateMetadata(context.Background(), false)
	var regenErr *backend.RegenError
	if !errors.As(err, &regenErr) {
		t.Fatalf("UpdateMetadata() error = %v, want *backend.RegenError", err)
	}
	if !r.Dirty() {
		t.Error("failed regeneration must leave the repository dirty")
	}
}
