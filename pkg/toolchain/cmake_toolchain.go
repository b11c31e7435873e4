package toolchain

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/OpenAssetIO/conan-center-index/pkg/profile"
)

// ToolchainFile is the name of the generated CMake toolchain
const ToolchainFile = "conan_toolchain.cmake"

// Variables holds CMake cache variables in insertion order. Values are either bool or string.
type Variables struct {
	names  []string
	values map[string]interface{}
}

// NewVariables returns an empty variable set
func NewVariables() *Variables {
	return &Variables{values: make(map[string]interface{})}
}

// SetBool stores a boolean variable
func (v *Variables) SetBool(name string, value bool) {
	v.set(name, value)
}

// SetString stores a string variable
func (v *Variables) SetString(name, value string) {
	v.set(name, value)
}

func (v *Variables) set(name string, value interface{}) {
	if _, ok := v.values[name]; !ok {
		v.names = append(v.names, name)
	}
	v.values[name] = value
}

// Get returns the value stored for name
func (v *Variables) Get(name string) (interface{}, bool) {
	value, ok := v.values[name]
	return value, ok
}

// Names returns all variable names in insertion order
func (v *Variables) Names() []string {
	return append([]string(nil), v.names...)
}

// CMakeToolchain generates the toolchain file passed to CMake's configure step
type CMakeToolchain struct {
	Settings         profile.Settings
	GeneratorsFolder string
	MultiConfig      bool
	Variables        *Variables
}

// NewCMakeToolchain prepares a toolchain for the given settings
func NewCMakeToolchain(settings profile.Settings, generatorsFolder string, multiConfig bool) *CMakeToolchain {
	return &CMakeToolchain{
		Settings:         settings,
		GeneratorsFolder: generatorsFolder,
		MultiConfig:      multiConfig,
		Variables:        NewVariables(),
	}
}

// Content renders the toolchain file
func (tc *CMakeToolchain) Content() string {
	buf := strings.Builder{}
	genFolder := Posix(tc.GeneratorsFolder)

	buf.WriteString("# Generated by testpkg. Changes will be overwritten.\n")
	buf.WriteString("include_guard()\n\n")
	buf.WriteString("message(STATUS \"Using testpkg toolchain: ${CMAKE_CURRENT_LIST_FILE}\")\n\n")

	if bt := tc.Settings.BuildType(); bt != "" && !tc.MultiConfig {
		buf.WriteString("set(CMAKE_BUILD_TYPE " + cmakeQuote(bt) + " CACHE STRING \"Choose the type of build.\" FORCE)\n")
	}

	if tc.Settings.IsMSVC() {
		if runtime := msvcRuntimeLibrary(tc.Settings); runtime != "" {
			buf.WriteString("cmake_policy(SET CMP0091 NEW)\n")
			buf.WriteString("set(CMAKE_MSVC_RUNTIME_LIBRARY " + cmakeQuote(runtime) + ")\n")
		}
	}

	if tc.Settings.GetSafe("compiler.libcxx") == "libstdc++" {
		buf.WriteString("add_compile_definitions(_GLIBCXX_USE_CXX11_ABI=0)\n")
	}

	buf.WriteString("\nlist(PREPEND CMAKE_PREFIX_PATH " + cmakeQuote(genFolder) + ")\n")
	buf.WriteString("list(PREPEND CMAKE_MODULE_PATH " + cmakeQuote(genFolder) + ")\n")
	buf.WriteString("set(CMAKE_FIND_PACKAGE_PREFER_CONFIG ON)\n")

	names := tc.Variables.Names()
	if len(names) > 0 {
		buf.WriteString("\n# Variables\n")
	}

	for _, name := range names {
		value, _ := tc.Variables.Get(name)
		doc := cmakeQuote("Variable " + name + " testpkg-toolchain defined")

		switch value := value.(type) {
		case bool:
			flag := "OFF"
			if value {
				flag = "ON"
			}
			buf.WriteString("set(" + name + " " + flag + " CACHE BOOL " + doc + " FORCE)\n")
		case string:
			buf.WriteString("set(" + name + " " + cmakeQuote(value) + " CACHE STRING " + doc + " FORCE)\n")
		}
	}

	return buf.String()
}

// Generate writes the toolchain file into the generators folder and returns its path
func (tc *CMakeToolchain) Generate() (string, error) {
	err := os.MkdirAll(tc.GeneratorsFolder, 0o770)
	if err != nil {
		return "", eris.Wrapf(err, "failed to create %s", tc.GeneratorsFolder)
	}

	dest := filepath.Join(tc.GeneratorsFolder, ToolchainFile)
	err = os.WriteFile(dest, []byte(tc.Content()), 0o660)
	if err != nil {
		return "", eris.Wrapf(err, "failed to write %s", dest)
	}

	return dest, nil
}

func msvcRuntimeLibrary(settings profile.Settings) string {
	runtime := settings.GetSafe("compiler.runtime")
	debug := settings.GetSafe("compiler.runtime_type") == "Debug" || settings.BuildType() == "Debug"

	switch runtime {
	case "MT", "MTd":
		debug = runtime == "MTd"
		runtime = "static"
	case "MD", "MDd":
		debug = runtime == "MDd"
		runtime = "dynamic"
	}

	result := "MultiThreaded"
	if debug {
		result += "Debug"
	}

	switch runtime {
	case "dynamic":
		return result + "DLL"
	case "static":
		return result
	}
	return ""
}
