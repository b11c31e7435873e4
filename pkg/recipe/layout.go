package recipe

import (
	"path/filepath"
	"strings"

	"github.com/OpenAssetIO/conan-center-index/pkg/profile"
)

// Layout lists the folders the test package is built in
type Layout struct {
	SourceFolder     string
	BuildFolder      string
	GeneratorsFolder string
	Generator        string
	MultiConfig      bool
}

var vsVersions = map[string]string{
	"194": "Visual Studio 17 2022",
	"193": "Visual Studio 17 2022",
	"192": "Visual Studio 16 2019",
	"191": "Visual Studio 15 2017",
	"17":  "Visual Studio 17 2022",
	"16":  "Visual Studio 16 2019",
	"15":  "Visual Studio 15 2017",
}

// DefaultGenerator picks the CMake generator for the given settings
func DefaultGenerator(settings profile.Settings) string {
	if settings.IsMSVC() {
		if gen, ok := vsVersions[settings.GetSafe("compiler.version")]; ok {
			return gen
		}
		return "Visual Studio 17 2022"
	}
	return "Unix Makefiles"
}

// IsMultiConfig returns true for generators which select the build type at build time
func IsMultiConfig(generator string) bool {
	return strings.HasPrefix(generator, "Visual Studio") || generator == "Ninja Multi-Config" ||
		generator == "Xcode"
}

// Layout computes the build folders. An empty generator selects the default for settings.
func (r *Recipe) Layout(settings profile.Settings, generator string) Layout {
	if generator == "" {
		generator = DefaultGenerator(settings)
	}

	result := Layout{
		SourceFolder: r.Dir,
		Generator:    generator,
		MultiConfig:  IsMultiConfig(generator),
	}

	result.BuildFolder = filepath.Join(r.Dir, "build")
	if bt := settings.BuildType(); !result.MultiConfig && bt != "" {
		result.BuildFolder = filepath.Join(result.BuildFolder, bt)
	}
	result.GeneratorsFolder = filepath.Join(result.BuildFolder, "generators")

	return result
}
