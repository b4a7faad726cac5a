// Package version orders freeform package version strings such as
// "1.2.1", "1.2rc3" or "3.0.4b1pre". A version is an ordered pair of a
// version string and a release string; the release may be left empty to
// act as a wildcard that matches every concrete release of the same
// version.
package version

import (
	"regexp"
	"strconv"
	"strings"
)

// Pre-release tag weights. Final (no tag) sorts above rc, which sorts
// above beta, which sorts above alpha.
const (
	tagAlpha = 1
	tagBeta  = 2
	tagRC    = 3
	tagFinal = 4
)

// Version is an immutable (version, release) pair. An empty Release is
// a wildcard: it compares equal to any concrete release of the same
// version string, which makes Parse("1.2") usable as a "match any build
// of 1.2" query key. Wildcard equality is not transitive with concrete
// release ordering, so wildcard versions must only ever be used as
// query arguments, never stored in a sorted package sequence.
type Version struct {
	Str     string
	Release string

	key    float64
	stamp  float64
	parsed bool
}

// Versions with a date-stamped or vendor-suffixed tail (for example
// "1.2.3-20150101" or "5.2.5gt6") carry no pre-release structure, so
// the tail is split off before the general packing pass would mistake
// it for a tag. The tail still orders builds of the same base version,
// as a tie-break below every packed component.
var stampedRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)[-_+.~]?(\d{8}|gt\d[0-9.]*)$`)

// Parse builds a wildcard Version from a bare version string.
func Parse(s string) Version {
	return ParseWithRelease(s, "")
}

// ParseWithRelease builds a Version from a version string and a
// concrete release string. Parsing never fails: text that matches no
// known version shape degrades to version 0, comparing equal to
// Parse("0"), so that one malformed artifact cannot abort a whole
// promotion batch. Callers that care can detect the degradation
// through Parsed.
func ParseWithRelease(v, release string) Version {
	key, stamp, ok := packKey(v)
	if !ok {
		key, stamp, _ = packKey("0")
	}
	return Version{Str: v, Release: release, key: key, stamp: stamp, parsed: ok}
}

// Parsed reports whether the version string matched a known shape. A
// false value means the version degraded to zero.
func (v Version) Parsed() bool {
	return v.parsed
}

// Wildcard reports whether the release component is unset.
func (v Version) Wildcard() bool {
	return v.Release == ""
}

func (v Version) String() string {
	if v.Release == "" {
		return v.Str
	}
	return v.Str + "-" + v.Release
}

// Compare returns -1, 0 or 1 ordering v against o. Version strings
// compare by their packed numeric key, then by the date/vendor stamp;
// equal versions with a wildcard release on either side compare equal,
// otherwise the release strings break the tie.
func (v Version) Compare(o Version) int {
	switch {
	case v.key < o.key:
		return -1
	case v.key > o.key:
		return 1
	case v.stamp < o.stamp:
		return -1
	case v.stamp > o.stamp:
		return 1
	}
	if v.Release == o.Release {
		return 0
	}
	if v.Release == "" || o.Release == "" {
		return 0
	}
	return compareRelease(v.Release, o.Release)
}

// Less reports whether v orders strictly before o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// Equal reports whether v and o compare equal, honoring wildcard
// releases.
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}

// packKey converts a version string into a monotonic key plus a
// stamp tie-break. Up to four numeric components are weighted into
// decreasing decimal places, followed by the pre-release tag weight,
// the tag revision and the "pre" demotion flag in lower-order places
// reserved for them, so that final > rc > beta > alpha falls out of
// plain float comparison. A date/vendor tail cannot share the float
// without drowning the other components, so it is keyed separately.
func packKey(v string) (float64, float64, bool) {
	stamp := 0.0
	if v == "" {
		return 0, 0, false
	}
	if m := stampedRe.FindStringSubmatch(v); m != nil {
		v = m[1]
		stamp, _, _ = packKey(strings.TrimPrefix(m[2], "gt"))
	}

	tag := float64(tagFinal)
	tagRev := 0.0
	pre := 1.0
	ok := true

	if parts := strings.Split(v, "pre"); len(parts) == 2 {
		pre = 0
		v = parts[0]
	}

	cut := func(suffix string, weight float64) {
		parts := strings.Split(v, suffix)
		if len(parts) != 2 {
			return
		}
		tag = weight
		if parts[1] != "" {
			rev, err := strconv.ParseFloat(parts[1], 64)
			if err != nil {
				ok = false
			} else {
				tagRev = rev
			}
		}
		v = parts[0]
	}

	switch {
	case strings.Contains(v, ".alpha"):
		cut(".alpha", tagAlpha)
	case strings.Contains(v, "alpha"):
		cut("alpha", tagAlpha)
	case strings.Contains(v, ".beta"):
		cut(".beta", tagBeta)
	case strings.Contains(v, "beta"):
		cut("beta", tagBeta)
	default:
		cut("a", tagAlpha)
		cut("b", tagBeta)
	}
	cut("rc", tagRC)

	var nums [4]float64
	fields := strings.Split(v, ".")
	if len(fields) > 4 {
		fields = fields[:4]
	}
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil || n < 0 {
			ok = false
			continue
		}
		nums[i] = n
	}
	if !ok {
		return 0, 0, false
	}

	key := nums[0]
	key += nums[1] / 1e2
	key += nums[2] / 1e4
	key += nums[3] / 1e6
	key += tag / 1e8
	key += tagRev / 1e10
	key += pre / 1e12
	return key, stamp, true
}

// compareRelease orders two concrete release strings: the common
// leading numeric/dot prefix compares numerically, the remaining
// suffix compares bytewise.
func compareRelease(a, b string) int {
	aNum, aRest := splitRelease(a)
	bNum, bRest := splitRelease(b)
	switch {
	case aNum < bNum:
		return -1
	case aNum > bNum:
		return 1
	case aRest < bRest:
		return -1
	case aRest > bRest:
		return 1
	}
	return 0
}

// splitRelease separates the leading numeric/dot prefix of a release
// string from its suffix and packs the prefix into a comparable key. An
// empty prefix packs to zero so that "rc1" orders below "1".
func splitRelease(s string) (float64, string) {
	i := 0
	for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	num := strings.Trim(s[:i], ".")
	if num == "" {
		return 0, s[i:]
	}
	key, _, _ := packKey(num)
	return key, s[i:]
}
