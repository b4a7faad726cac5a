// Package backend defines the metadata capability that repositories
// depend on: enumerating the packages persisted in one partition of a
// release tree, placing new artifact files into it, and regenerating
// its native index with the ecosystem's own tooling.
package backend

import (
	"context"
	"fmt"

	"github.com/frederic-klein/yarm/internal/pkginfo"
)

// Partition identifies one (ecosystem, OS, architecture) cell of a
// release tree together with its on-disk directory. For ecosystems
// whose native tooling manages several cells in one tree (apt), Dir is
// the shared tree root; otherwise it is the cell's own directory.
type Partition struct {
	Ecosystem string
	OS        string
	Arch      string
	Dir       string
}

func (p Partition) String() string {
	if p.Arch == "" {
		return fmt.Sprintf("%s/%s", p.Ecosystem, p.OS)
	}
	return fmt.Sprintf("%s/%s/%s", p.Ecosystem, p.OS, p.Arch)
}

// Backend is implemented once per packaging ecosystem.
type Backend interface {
	// Ecosystem returns the ecosystem key ("deb", "yum", "zypper", ...).
	Ecosystem() string

	// List parses the partition's native on-disk index into package
	// metadata. A missing index means an empty partition; an index
	// that exists but cannot be parsed is an *IndexError.
	List(part Partition) ([]pkginfo.Package, error)

	// Install idempotently places the package's artifact file into the
	// partition and returns the artifact's new path. It does not
	// regenerate the index.
	Install(ctx context.Context, part Partition, pkg pkginfo.Package) (string, error)

	// Regenerate runs the ecosystem's native index-building tool
	// against the partition, synchronously.
	Regenerate(ctx context.Context, part Partition) error
}

// IndexError reports a partition whose persisted index exists but
// cannot be enumerated. Repository construction treats this as fatal:
// the process cannot safely operate on contents it cannot see.
type IndexError struct {
	Partition Partition
	Err       error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("package index for %s unreadable: %v", e.Partition, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// RegenError reports a failed metadata regeneration, distinct from a
// package copy failure so that callers can continue a batch and report
// both kinds at the end.
type RegenError struct {
	Partition Partition
	Err       error
}

func (e *RegenError) Error() string {
	return fmt.Sprintf("metadata regeneration for %s failed: %v", e.Partition, e.Err)
}

func (e *RegenError) Unwrap() error {
	return e.Err
}
