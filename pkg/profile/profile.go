package profile

import (
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rotisserie/eris"
)

// Settings holds the host settings of a build. Keys use the package manager's dotted names
// (i.e. "compiler.libcxx").
type Settings map[string]string

// Conf contains tool-level switches that aren't part of the package identity
type Conf struct {
	// CanRun overrides the cross-building check. nil means "detect".
	CanRun *bool `toml:"can_run"`
}

// Profile combines the settings with their conf section
type Profile struct {
	Settings Settings `toml:"settings"`
	Conf     Conf     `toml:"conf"`
}

// Get returns the value for the given setting and whether it was set at all
func (s Settings) Get(name string) (string, bool) {
	value, ok := s[name]
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// GetSafe returns the value for the given setting or an empty string
func (s Settings) GetSafe(name string) string {
	value, _ := s.Get(name)
	return value
}

func (s Settings) OS() string        { return s.GetSafe("os") }
func (s Settings) Arch() string      { return s.GetSafe("arch") }
func (s Settings) Compiler() string  { return s.GetSafe("compiler") }
func (s Settings) BuildType() string { return s.GetSafe("build_type") }

// IsMSVC returns true if the configured compiler is Microsoft's
func (s Settings) IsMSVC() bool {
	switch s.Compiler() {
	case "msvc", "Visual Studio":
		return true
	}
	return false
}

// Keys returns the setting names in a stable order
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s Settings) String() string {
	parts := make([]string, 0, len(s))
	for _, k := range s.Keys() {
		parts = append(parts, k+"="+s[k])
	}
	return strings.Join(parts, " ")
}

// Load parses the TOML profile at path. Missing settings are filled in from the detected
// build machine.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read profile %s", path)
	}

	return Parse(string(data))
}

// Parse decodes a TOML profile
func Parse(content string) (*Profile, error) {
	var prof Profile
	if _, err := toml.Decode(content, &prof); err != nil {
		return nil, eris.Wrap(err, "failed to parse profile")
	}

	if prof.Settings == nil {
		prof.Settings = Settings{}
	}

	_, hasCompiler := prof.Settings["compiler"]
	for k, v := range Detect().Settings {
		// sub-settings of the detected compiler don't apply to a different one
		if hasCompiler && strings.HasPrefix(k, "compiler.") {
			continue
		}
		if _, ok := prof.Settings[k]; !ok {
			prof.Settings[k] = v
		}
	}

	return &prof, nil
}

var (
	osNames = map[string]string{
		"linux":   "Linux",
		"darwin":  "Macos",
		"windows": "Windows",
		"freebsd": "FreeBSD",
	}
	archNames = map[string]string{
		"amd64": "x86_64",
		"386":   "x86",
		"arm64": "armv8",
		"arm":   "armv7",
	}
)

// OSName translates a GOOS value to the package manager's name for it
func OSName(goos string) string {
	if name, ok := osNames[goos]; ok {
		return name
	}
	return goos
}

// ArchName translates a GOARCH value to the package manager's name for it
func ArchName(goarch string) string {
	if name, ok := archNames[goarch]; ok {
		return name
	}
	return goarch
}

// Detect returns a profile describing the build machine
func Detect() *Profile {
	settings := Settings{
		"os":         OSName(runtime.GOOS),
		"arch":       ArchName(runtime.GOARCH),
		"build_type": "Release",
	}

	switch runtime.GOOS {
	case "windows":
		settings["compiler"] = "msvc"
		settings["compiler.runtime"] = "dynamic"
	case "darwin":
		settings["compiler"] = "apple-clang"
		settings["compiler.libcxx"] = "libc++"
	default:
		settings["compiler"] = "gcc"
		settings["compiler.libcxx"] = "libstdc++11"
	}

	return &Profile{Settings: settings}
}

// CrossBuilding returns true if the host settings describe a different platform than
// the build machine
func CrossBuilding(host, build Settings) bool {
	return host.OS() != build.OS() || host.Arch() != build.Arch()
}

// CanRun reports whether binaries built for prof can be executed on the build machine
func (p *Profile) CanRun(build Settings) bool {
	if p.Conf.CanRun != nil {
		return *p.Conf.CanRun
	}

	return !CrossBuilding(p.Settings, build)
}
