package repo

// Cache is the release seeded from the most recently built artifacts,
// mirrored from the upstream build server before construction. It is
// the default promotion source: its IsNewer predicate answers whether
// a build is newer than anything already known.
type Cache struct {
	*Release

	// Dir is the local mirror directory backing the cache.
	Dir string
}

// NewCache wraps a release populated from the mirror directory.
func NewCache(rel *Release, dir string) *Cache {
	return &Cache{Release: rel, Dir: dir}
}
