package semver

import (
	"reflect"
	"testing"
)

func makeVersions() []string {
	return []string{"1.0.0", "1.4.2", "2.0.0", "2.1.0", "2.2.0-rc.1", "3.0.0-beta.1", "not-a-version"}
}

func TestResolveVersion(t *testing.T) {
	tests := []struct {
		name   string
		rng    string
		want   string
		wantOK bool
	}{
		{"no range picks latest stable", "", "2.1.0", true},
		{"major only", "1", "1.4.2", true},
		{"major only prerelease fallback", "3", "3.0.0-beta.1", true},
		{"caret range", "^2.0", "2.1.0", true},
		{"tilde range", "~1.4.0", "1.4.2", true},
		{"comparison range", ">=1.0.0 <2.0.0", "1.4.2", true},
		{"exact", "2.0.0", "2.0.0", true},
		{"no match", "^9", "", false},
		{"missing major", "7", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveVersion(ResolveVersionParams{Versions: makeVersions(), Range: tt.rng})
			if ok != tt.wantOK {
				t.Fatalf("semver:resolver_test - ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("semver:resolver_test - ResolveVersion(%q) = %q, want %q", tt.rng, got, tt.want)
			}
		})
	}
}

func TestResolveVersion_EmptyVersions(t *testing.T) {
	if _, ok := ResolveVersion(ResolveVersionParams{Range: "1"}); ok {
		t.Error("semver:resolver_test - expected no result for empty version list")
	}
}

func TestSortVersionsDesc(t *testing.T) {
	got := SortVersionsDesc([]string{"1.0.0", "10.0.0", "2.0.0", "bogus", "2.0.0-rc.1"})
	want := []string{"10.0.0", "2.0.0", "2.0.0-rc.1", "1.0.0"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("semver:resolver_test - SortVersionsDesc() = %v, want %v", got, want)
	}
}

func TestGetUniqueMajors(t *testing.T) {
	got := GetUniqueMajors(makeVersions())
	want := []int{3, 2, 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("semver:resolver_test - GetUniqueMajors() = %v, want %v", got, want)
	}
}

func TestSatisfiesRange(t *testing.T) {
	tests := []struct {
		version string
		rng     string
		want    bool
	}{
		{"3.2.1", "3", true},
		{"3.2.1", "2", false},
		{"3.2.1", "^3.0.0", true},
		{"4.0.0", "^3.0.0", false},
		{"3.2.1", "~3.2.0", true},
		{"bogus", "^1", false},
		{"1.0.0", "not a range", false},
	}
	for _, tt := range tests {
		if got := SatisfiesRange(tt.version, tt.rng); got != tt.want {
			t.Errorf("semver:resolver_test - SatisfiesRange(%q, %q) = %v, want %v", tt.version, tt.rng, got, tt.want)
		}
	}
}
