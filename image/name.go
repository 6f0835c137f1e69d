package image

import (
	"strings"

	"golang.org/x/mod/semver"

	"github.com/wippyai/interop-bridge/errors"
)

// AssemblyName identifies an assembly: short name plus optional version and
// culture. The display form is "Name, Version=1.2.0, Culture=neutral".
type AssemblyName struct {
	Name    string
	Version string
	Culture string
}

// ParseAssemblyName parses the display form. Unknown attributes are ignored.
func ParseAssemblyName(s string) (AssemblyName, error) {
	parts := strings.Split(s, ",")
	an := AssemblyName{Name: strings.TrimSpace(parts[0])}
	if an.Name == "" {
		return AssemblyName{}, errors.InvalidInput(errors.PhaseLoad, "empty assembly name")
	}
	for _, p := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			return AssemblyName{}, errors.InvalidInput(errors.PhaseLoad, "malformed assembly attribute "+p)
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "version":
			v := strings.TrimSpace(value)
			if !ValidVersion(v) {
				return AssemblyName{}, errors.InvalidInput(errors.PhaseLoad, "invalid version "+v)
			}
			an.Version = v
		case "culture":
			an.Culture = strings.TrimSpace(value)
		}
	}
	return an, nil
}

// String returns the display form.
func (n AssemblyName) String() string {
	var b strings.Builder
	b.WriteString(n.Name)
	if n.Version != "" {
		b.WriteString(", Version=")
		b.WriteString(n.Version)
	}
	if n.Culture != "" {
		b.WriteString(", Culture=")
		b.WriteString(n.Culture)
	}
	return b.String()
}

// Matches reports whether n satisfies the reference ref. Names compare
// case-insensitively; a reference without a version or culture accepts any.
func (n AssemblyName) Matches(ref AssemblyName) bool {
	if !strings.EqualFold(n.Name, ref.Name) {
		return false
	}
	if ref.Version != "" && CompareVersions(n.Version, ref.Version) != 0 {
		return false
	}
	if ref.Culture != "" && !strings.EqualFold(cultureOrNeutral(n.Culture), cultureOrNeutral(ref.Culture)) {
		return false
	}
	return true
}

// Equal reports whether n and other name the same identity. Names compare
// case-insensitively, versions by semantic version and an empty culture is
// neutral, so display forms differing only in spacing or attribute order
// are equal.
func (n AssemblyName) Equal(other AssemblyName) bool {
	if !strings.EqualFold(n.Name, other.Name) {
		return false
	}
	if (n.Version == "") != (other.Version == "") || CompareVersions(n.Version, other.Version) != 0 {
		return false
	}
	return strings.EqualFold(cultureOrNeutral(n.Culture), cultureOrNeutral(other.Culture))
}

func cultureOrNeutral(c string) string {
	if c == "" {
		return "neutral"
	}
	return c
}

// ValidVersion reports whether v is a semantic version, with or without the
// leading "v".
func ValidVersion(v string) bool {
	return semver.IsValid(canonical(v))
}

// CompareVersions compares two versions. Invalid versions sort before valid
// ones and compare equal to each other.
func CompareVersions(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

func canonical(v string) string {
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
