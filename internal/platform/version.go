package platform

import (
	"strconv"
	"strings"
)

// CompareVersions performs a simple semver comparison.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
// Handles partial versions (e.g. "0.1" vs "0.1.5").
func CompareVersions(a, b string) int {
	aParts := parseVersionParts(a)
	bParts := parseVersionParts(b)

	maxLen := max(len(aParts), len(bParts))
	for i := 0; i < maxLen; i++ {
		var av, bv int
		if i < len(aParts) {
			av = aParts[i]
		}
		if i < len(bParts) {
			bv = bParts[i]
		}
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// VersionAtLeast returns true if version >= min. Unknown versions pass.
func VersionAtLeast(version, min string) bool {
	if version == "" || min == "" {
		return true
	}
	return CompareVersions(version, min) >= 0
}

func parseVersionParts(v string) []int {
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		result = append(result, n)
	}
	return result
}

// NewerDSL reports whether the imported DSL was written by a newer Dify than
// the target runs, which Dify accepts but may degrade.
func (r *ImportResult) NewerDSL() bool {
	if r == nil {
		return false
	}
	return !VersionAtLeast(r.CurrentDSLVersion, r.ImportedDSLVersion)
}
