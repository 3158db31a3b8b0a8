package mods

import (
	"strconv"
	"strings"

	"garrison/internal/domain"
)

// ParseVersion splits a dotted version ("1.2.0", "v1.2") into integers.
// Anything that is not a plain non-negative integer is rejected.
func ParseVersion(v string) ([]int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(v), "v")
	if trimmed == "" {
		return nil, domain.Validation("empty version")
	}
	parts := strings.Split(trimmed, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || strings.HasPrefix(p, "+") {
			return nil, domain.Validation("version %q has non-numeric component %q", v, p)
		}
		out[i] = n
	}
	return out, nil
}

// CompareVersions returns -1, 0 or 1. Missing trailing components count as 0.
func CompareVersions(a, b string) (int, error) {
	pa, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	pb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}

	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if x != y {
			if x < y {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, nil
}

// CheckCompatibility reports whether a mod requiring mod.GameVersion can run
// on serverVersion. Unknown versions on either side count as compatible.
func CheckCompatibility(mod domain.Mod, serverVersion string) (bool, error) {
	if strings.TrimSpace(mod.GameVersion) == "" || strings.TrimSpace(serverVersion) == "" {
		return true, nil
	}
	cmp, err := CompareVersions(mod.GameVersion, serverVersion)
	if err != nil {
		return false, err
	}
	return cmp <= 0, nil
}
