// Package release models product release versions such as 7.10.0.CR2 or
// 7.11.0.OPR.1.CR1 and the orderings used to rank them.
package release

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidFormat is returned by Parse for text that is not a release version.
var ErrInvalidFormat = errors.New("invalid release version")

// GACandidate is the candidate label of a generally available release.
const GACandidate = "GA"

var versionPattern = regexp.MustCompile(`^(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)(?:\.([A-Za-z]+\.(?:0|[1-9][0-9]*)))?\.([A-Za-z]+(?:0|[1-9][0-9]*)?)$`)

// Version is an immutable release version: major.minor.patch[.qualifier].candidate.
// The zero value is not a valid version; use Parse.
type Version struct {
	Major     int
	Minor     int
	Patch     int
	Qualifier string // optional build stream, e.g. "OPR.1"
	Candidate string // release candidate label, e.g. "CR2" or "GA"
}

// Parse parses text of the form major.minor.patch[.qualifier].candidate.
func Parse(text string) (Version, error) {
	m := versionPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidFormat, text)
	}
	var v Version
	var err error
	if v.Major, err = strconv.Atoi(m[1]); err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, text, err)
	}
	if v.Minor, err = strconv.Atoi(m[2]); err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, text, err)
	}
	if v.Patch, err = strconv.Atoi(m[3]); err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, text, err)
	}
	v.Qualifier = m[4]
	v.Candidate = m[5]
	return v, nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(text string) Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the canonical text form; it is the inverse of Parse.
func (v Version) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Qualifier != "" {
		sb.WriteByte('.')
		sb.WriteString(v.Qualifier)
	}
	sb.WriteByte('.')
	sb.WriteString(v.Candidate)
	return sb.String()
}

// IsZero reports whether v was never parsed.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare orders versions by (major, minor, patch, qualifier, candidate).
// It returns -1, 0 or 1.
func (v Version) Compare(other Version) int {
	if c := v.CompareWithoutCandidate(other); c != 0 {
		return c
	}
	return compareLabel(v.Candidate, other.Candidate)
}

// CompareWithoutQualifier compares major, minor and patch only. Two versions
// that compare equal here belong to the same release family.
func (v Version) CompareWithoutQualifier(other Version) int {
	if c := compareInt(v.Major, other.Major); c != 0 {
		return c
	}
	if c := compareInt(v.Minor, other.Minor); c != 0 {
		return c
	}
	return compareInt(v.Patch, other.Patch)
}

// CompareWithoutCandidate compares major, minor, patch and qualifier,
// treating any two candidates as equal. 7.10.0.GA and 7.10.0.CR2 compare equal.
func (v Version) CompareWithoutCandidate(other Version) int {
	if c := v.CompareWithoutQualifier(other); c != 0 {
		return c
	}
	return compareLabel(v.Qualifier, other.Qualifier)
}

// SameMinor reports whether both versions share major and minor.
func (v Version) SameMinor(other Version) bool {
	return v.Major == other.Major && v.Minor == other.Minor
}

// TargetRelease returns the GA form of v, the value tracked as an issue's
// target release.
func (v Version) TargetRelease() Version {
	v.Candidate = GACandidate
	return v
}

// MajorMinor returns "major.minor", e.g. "7.10".
func (v Version) MajorMinor() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	if v.IsZero() {
		return []byte{}, nil
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*v = Version{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareLabel orders labels such as "CR2", "GA" or "OPR.1" by their
// alphabetic prefix and then numerically by their digits, so CR2 < CR10.
// An absent label sorts before any present one.
func compareLabel(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return -1
	case b == "":
		return 1
	}
	pa, na, hasA := splitLabel(a)
	pb, nb, hasB := splitLabel(b)
	if c := strings.Compare(pa, pb); c != 0 {
		return c
	}
	switch {
	case !hasA && hasB:
		return -1
	case hasA && !hasB:
		return 1
	}
	if c := compareInt(na, nb); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func splitLabel(s string) (prefix string, n int, hasNumber bool) {
	i := strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' })
	if i < 0 {
		return s, 0, false
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return s, 0, false
	}
	return s[:i], n, true
}
