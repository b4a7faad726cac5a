package repo

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/frederic-klein/yarm/internal/backend"
	"github.com/frederic-klein/yarm/internal/pkginfo"
	"github.com/frederic-klein/yarm/internal/version"
)

// fakeBackend keeps per-partition package lists in memory and counts
// regenerations, standing in for the external ecosystem tooling.
type fakeBackend struct {
	lists      map[string][]pkginfo.Package
	regens     map[string]int
	installs   int
	listErr    error
	installErr error
	regenErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		lists:  make(map[string][]pkginfo.Package),
		regens: make(map[string]int),
	}
}

func (f *fakeBackend) Ecosystem() string { return "fake" }

func (f *fakeBackend) List(part backend.Partition) ([]pkginfo.Package, error) {
	if f.listErr != nil {
		return nil, &backend.IndexError{Partition: part, Err: f.listErr}
	}
	return f.lists[part.String()], nil
}

func (f *fakeBackend) Install(ctx context.Context, part backend.Partition, pkg pkginfo.Package) (string, error) {
	if f.installErr != nil {
		return "", f.installErr
	}
	f.installs++
	return filepath.Join(part.Dir, filepath.Base(pkg.Path)), nil
}

func (f *fakeBackend) Regenerate(ctx context.Context, part backend.Partition) error {
	if f.regenErr != nil {
		return f.regenErr
	}
	f.regens[part.String()]++
	return nil
}

var errBadIndex = errors.New("truncated index")

func mkpkg(name, ver, rel, arch, source, osName string) pkginfo.Package {
	return pkginfo.Package{
		Name:    name,
		Version: version.ParseWithRelease(ver, rel),
		Path:    "/src/" + name + "_" + ver + "-" + rel + "_" + arch + ".pkg",
		Arch:    arch,
		Source:  source,
		OS:      osName,
	}
}

func mustRepo(b backend.Backend, part backend.Partition) *Repository {
	r, err := NewRepository(b, part)
	if err != nil {
		panic(err)
	}
	return r
}
