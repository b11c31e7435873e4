package graph

import (
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
)

// Reference identifies a package as name/version[@user/channel]. The version may be a range
// written in brackets (i.e. "[>=1.1 <2]").
type Reference struct {
	Name    string
	Version string
	User    string
	Channel string
}

// ParseReference parses a reference string
func ParseReference(raw string) (Reference, error) {
	var ref Reference

	raw = strings.TrimSpace(raw)
	main := raw
	if pos := strings.Index(raw, "@"); pos > -1 {
		main = raw[:pos]
		uc := raw[pos+1:]

		parts := strings.SplitN(uc, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return ref, eris.Errorf("invalid user/channel in reference %s", raw)
		}
		ref.User = parts[0]
		ref.Channel = parts[1]
	}

	pos := strings.Index(main, "/")
	if pos < 1 || pos == len(main)-1 {
		return ref, eris.Errorf("invalid reference %s, expected name/version", raw)
	}

	ref.Name = main[:pos]
	ref.Version = main[pos+1:]
	if strings.ContainsAny(ref.Name, " []") {
		return ref, eris.Errorf("invalid package name in reference %s", raw)
	}

	return ref, nil
}

// MustParseReference is like ParseReference but panics on errors. Only use it for constants.
func MustParseReference(raw string) Reference {
	ref, err := ParseReference(raw)
	if err != nil {
		panic(err)
	}
	return ref
}

func (r Reference) String() string {
	result := r.Name + "/" + r.Version
	if r.User != "" {
		result += "@" + r.User + "/" + r.Channel
	}
	return result
}

// IsRange returns true if the version is a bracketed version range
func (r Reference) IsRange() bool {
	return strings.HasPrefix(r.Version, "[") && strings.HasSuffix(r.Version, "]")
}

// Constraint parses the version range. Range options like "include_prerelease=True"
// are dropped.
func (r Reference) Constraint() (*semver.Constraints, error) {
	if !r.IsRange() {
		return nil, eris.Errorf("%s does not use a version range", r)
	}

	expr := r.Version[1 : len(r.Version)-1]
	parts := strings.Split(expr, ",")
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || isRangeOption(part) {
			continue
		}
		kept = append(kept, part)
	}

	constraint, err := semver.NewConstraint(strings.Join(kept, ", "))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse version range %s", r.Version)
	}
	return constraint, nil
}

func isRangeOption(part string) bool {
	pos := strings.Index(part, "=")
	return pos > 0 && unicode.IsLetter(rune(part[0]))
}

// SameRecipe returns true if both references point to the same name, user and channel
func (r Reference) SameRecipe(other Reference) bool {
	return r.Name == other.Name && r.User == other.User && r.Channel == other.Channel
}
