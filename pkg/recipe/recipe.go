package recipe

import (
	"github.com/rotisserie/eris"

	"github.com/OpenAssetIO/conan-center-index/pkg/graph"
)

const (
	// TestedName is the package this test package exercises
	TestedName = "openassetio"
	// PythonName is the package providing the embedded Python runtime
	PythonName = "cpython"
	// DefaultPythonVersion is requested when the tested package doesn't pin one
	DefaultPythonVersion = "3.9.7"
)

var (
	CMakeRef   = graph.MustParseReference("cmake/3.25.1")
	OpenSSLRef = graph.MustParseReference("openssl/1.1.1s")
)

// Kind tells whether a requirement is linked into the consumer or only used to build it
type Kind int

const (
	Requires Kind = iota
	ToolRequires
)

func (k Kind) String() string {
	if k == ToolRequires {
		return "tool_requires"
	}
	return "requires"
}

// Requirement is a single declared dependency of the test package
type Requirement struct {
	Ref  graph.Reference
	Kind Kind
}

func (r Requirement) String() string {
	return r.Kind.String() + " " + r.Ref.String()
}

// Recipe describes the test package for a tested reference
type Recipe struct {
	Tested graph.Reference
	// Dir is the test package directory containing CMakeLists.txt
	Dir string
}

// New parses the tested reference and returns the matching recipe
func New(tested string, dir string) (*Recipe, error) {
	ref, err := graph.ParseReference(tested)
	if err != nil {
		return nil, err
	}

	if ref.Name != TestedName {
		return nil, eris.Errorf("this test package only supports %s, got %s", TestedName, ref)
	}

	return &Recipe{Tested: ref, Dir: dir}, nil
}

// RuntimeVersion decides which Python runtime version the tested package needs. The second
// return value is false if the package doesn't embed Python at all.
func RuntimeVersion(opts graph.Options) (string, bool) {
	if enabled, present := opts.Bool("with_python"); present && !enabled {
		return "", false
	}

	if version, ok := opts.Get("python_version"); ok {
		return version, true
	}

	return DefaultPythonVersion, true
}

// EmbedsPython reports the tested package's with_python option. Packages that don't declare
// the option always embed Python.
func EmbedsPython(opts graph.Options) bool {
	enabled, present := opts.Bool("with_python")
	if !present {
		return true
	}
	return enabled
}

// Requirements lists the dependencies of the test package given the tested package's options
func (r *Recipe) Requirements(opts graph.Options) []Requirement {
	result := []Requirement{
		{Ref: CMakeRef, Kind: ToolRequires},
		{Ref: OpenSSLRef, Kind: Requires},
		{Ref: r.Tested, Kind: Requires},
	}

	if version, ok := RuntimeVersion(opts); ok {
		result = append(result, Requirement{
			Ref:  graph.Reference{Name: PythonName, Version: version},
			Kind: Requires,
		})
	}

	return result
}
