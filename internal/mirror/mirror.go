// Package mirror pulls the upstream cache tree to the local disk with
// rsync so that promotions run against a complete local copy.
package mirror

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/frederic-klein/yarm/internal/backend"
)

// Syncer mirrors one upstream tree into a local directory.
type Syncer struct {
	upstream string
	dest     string
	excludes []string
}

// New creates a syncer. Upstream is an rsync source spec, typically
// host:/path/; dest is the local cache directory.
func New(upstream, dest string, excludes ...string) (*Syncer, error) {
	if upstream == "" || dest == "" {
		return nil, fmt.Errorf("mirror needs both an upstream and a destination")
	}
	// A trailing slash makes rsync copy the tree's contents rather
	// than the tree itself.
	if !strings.HasSuffix(upstream, "/") {
		upstream += "/"
	}
	return &Syncer{upstream: upstream, dest: dest, excludes: excludes}, nil
}

// Sync runs the transfer. Per-file failures are tolerated so one
// unreadable upstream artifact does not abort the whole mirror pass.
func (s *Syncer) Sync(ctx context.Context) error {
	if err := os.MkdirAll(s.dest, 0o775); err != nil {
		return fmt.Errorf("creating %s: %w", s.dest, err)
	}
	args := []string{"-a", "--ignore-errors", "-e", "ssh"}
	for _, ex := range s.excludes {
		args = append(args, "--exclude", ex)
	}
	args = append(args, s.upstream, s.dest)
	return backend.Run(ctx, "", "rsync", args...)
}
