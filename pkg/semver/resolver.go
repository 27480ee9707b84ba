package semver

import (
	"sort"

	masterminds "github.com/Masterminds/semver/v3"
)

// ResolveVersionParams holds parameters for ResolveVersion.
type ResolveVersionParams struct {
	Versions []string
	Range    string // SemVer range, major-only, or empty
}

// ResolveVersion finds the highest registered version satisfying Range.
// Stable versions are preferred over prereleases when Range is empty or
// major-only. Unparseable versions are ignored.
func ResolveVersion(params ResolveVersionParams) (string, bool) {
	parsed := parseAll(params.Versions)
	if len(parsed) == 0 {
		return "", false
	}
	sortDesc(parsed)

	// Case 1: No range - latest stable, else latest overall
	if params.Range == "" {
		return pickPreferStable(parsed)
	}

	// Case 2: Major-only range (e.g., "3")
	if IsMajorOnly(params.Range) {
		major := uint64(ExtractMajorFromRange(params.Range))
		var inMajor []*masterminds.Version
		for _, v := range parsed {
			if v.Major() == major {
				inMajor = append(inMajor, v)
			}
		}
		return pickPreferStable(inMajor)
	}

	// Case 3: SemVer range (e.g., "^3.2.0", "~3.2.0", ">=3.0.0 <4.0.0")
	constraint, err := masterminds.NewConstraint(params.Range)
	if err != nil {
		// If range parsing fails, try as exact version
		return findExactVersion(parsed, params.Range)
	}
	for _, v := range parsed {
		if constraint.Check(v) {
			return v.Original(), true
		}
	}
	return "", false
}

// SortVersionsDesc returns versions sorted highest first. Unparseable
// versions are dropped.
func SortVersionsDesc(versions []string) []string {
	parsed := parseAll(versions)
	sortDesc(parsed)
	out := make([]string, 0, len(parsed))
	for _, v := range parsed {
		out = append(out, v.Original())
	}
	return out
}

// GetUniqueMajors returns all unique major versions sorted descending.
func GetUniqueMajors(versions []string) []int {
	seen := make(map[int]bool)
	var majors []int

	for _, v := range parseAll(versions) {
		m := int(v.Major())
		if !seen[m] {
			seen[m] = true
			majors = append(majors, m)
		}
	}

	sort.Sort(sort.Reverse(sort.IntSlice(majors)))
	return majors
}

// SatisfiesRange checks if a version string satisfies a range.
func SatisfiesRange(version, rangeStr string) bool {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}

	if IsMajorOnly(rangeStr) {
		return int(sv.Major()) == ExtractMajorFromRange(rangeStr)
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}

// --- internal helpers ---

func parseAll(versions []string) []*masterminds.Version {
	out := make([]*masterminds.Version, 0, len(versions))
	for _, s := range versions {
		v, err := masterminds.NewVersion(s)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func sortDesc(versions []*masterminds.Version) {
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].GreaterThan(versions[j])
	})
}

// pickPreferStable expects versions sorted descending.
func pickPreferStable(versions []*masterminds.Version) (string, bool) {
	if len(versions) == 0 {
		return "", false
	}
	for _, v := range versions {
		if v.Prerelease() == "" {
			return v.Original(), true
		}
	}
	return versions[0].Original(), true
}

func findExactVersion(versions []*masterminds.Version, versionStr string) (string, bool) {
	for _, v := range versions {
		if v.Original() == versionStr || v.String() == versionStr {
			return v.Original(), true
		}
	}
	return "", false
}
