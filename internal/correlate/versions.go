package correlate

import (
	"strconv"
	"strings"
)

// versionMatch classifies how two version strings relate.
type versionMatch int

const (
	versionNoMatch versionMatch = iota
	versionNone                 // no version constraint in play
	versionExact
	versionRange
	versionMajor
)

// multiplier returns the confidence multiplier for the version outcome.
func (v versionMatch) multiplier() float64 {
	switch v {
	case versionExact:
		return 1.0
	case versionRange:
		return 0.9
	case versionMajor:
		return 0.8
	case versionNone:
		return 0.7
	default:
		return 0.0
	}
}

// reconcileVersions decides whether an advisory's version constraint covers
// the installed version. An advisory without a version affects all
// versions; an installed product without a version cannot be confirmed
// against a versioned advisory.
func reconcileVersions(threatVersion, assetVersion string) versionMatch {
	tv := normalizeVersion(threatVersion)
	av := normalizeVersion(assetVersion)

	switch {
	case tv == "" && av == "":
		return versionNone
	case tv == "":
		return versionNone
	case av == "":
		return versionNoMatch
	case tv == av:
		return versionExact
	}

	// "X.Y.x" covers every patch level of X.Y.
	if strings.HasSuffix(tv, ".x") {
		prefix := strings.TrimSuffix(tv, ".x")
		if av == prefix || strings.HasPrefix(av, prefix+".") {
			return versionRange
		}
	}

	if op, bound, ok := parseComparator(tv); ok {
		if cmp, ok := compareVersions(av, bound); ok && satisfies(cmp, op) {
			return versionRange
		}
		return versionNoMatch
	}

	if majorComponent(tv) != "" && majorComponent(tv) == majorComponent(av) {
		return versionMajor
	}

	return versionNoMatch
}

func normalizeVersion(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if strings.HasPrefix(v, "v") && len(v) > 1 && v[1] >= '0' && v[1] <= '9' {
		v = v[1:]
	}
	return v
}

// parseComparator splits forms like ">= 7.0", ">7.0", "<=6.5" into the
// operator and its bound.
func parseComparator(v string) (op, bound string, ok bool) {
	for _, candidate := range []string{">=", "<=", ">", "<"} {
		if strings.HasPrefix(v, candidate) {
			return candidate, strings.TrimSpace(strings.TrimPrefix(v, candidate)), true
		}
	}
	return "", "", false
}

// compareVersions numerically compares dotted versions; returns -1/0/1 and
// false when either side has no numeric components.
func compareVersions(a, b string) (int, bool) {
	as, aok := versionComponents(a)
	bs, bok := versionComponents(b)
	if !aok || !bok {
		return 0, false
	}

	for i := 0; i < len(as) || i < len(bs); i++ {
		var ac, bc int
		if i < len(as) {
			ac = as[i]
		}
		if i < len(bs) {
			bc = bs[i]
		}
		if ac != bc {
			if ac < bc {
				return -1, true
			}
			return 1, true
		}
	}
	return 0, true
}

func satisfies(cmp int, op string) bool {
	switch op {
	case ">=":
		return cmp >= 0
	case ">":
		return cmp > 0
	case "<=":
		return cmp <= 0
	case "<":
		return cmp < 0
	}
	return false
}

func versionComponents(v string) ([]int, bool) {
	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			break
		}
		out = append(out, n)
	}
	return out, len(out) > 0
}

func majorComponent(v string) string {
	if idx := strings.IndexByte(v, '.'); idx > 0 {
		v = v[:idx]
	}
	if _, err := strconv.Atoi(v); err != nil {
		return ""
	}
	return v
}
