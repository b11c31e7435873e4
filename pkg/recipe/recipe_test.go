package recipe

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenAssetIO/conan-center-index/pkg/graph"
	"github.com/OpenAssetIO/conan-center-index/pkg/profile"
	"github.com/OpenAssetIO/conan-center-index/pkg/toolchain"
)

const testLockfile = `
packages:
  - ref: cmake/3.25.1
  - ref: openssl/1.1.1s
  - ref: openassetio/1.0.0
    options:
      with_python: "True"
  - ref: openassetio/1.0.0@nopython/stable
    options:
      with_python: "False"
  - ref: openassetio/1.0.0@py310/stable
    options:
      python_version: "3.10.2"
  - ref: cpython/3.9.7
    package_folder: /opt/cpython
    user_info:
      python: C:\Python39\python.exe
    cpp_info:
      components:
        embed:
          libdirs: [libs]
          libs: [python39.dll]
  - ref: cpython/3.10.2
    package_folder: /opt/cpython310
`

func testLock(t *testing.T) *graph.Lockfile {
	lock, err := graph.Parse([]byte(testLockfile))
	require.NoError(t, err)
	return lock
}

func resolveTested(t *testing.T, tested string) *Resolved {
	rcp, err := New(tested, t.TempDir())
	require.NoError(t, err)

	deps, err := rcp.Resolve(testLock(t))
	require.NoError(t, err)
	return deps
}

func TestRuntimeVersion(t *testing.T) {
	tests := []struct {
		name    string
		opts    graph.Options
		version string
		ok      bool
	}{
		{"python disabled", graph.Options{"with_python": "False"}, "", false},
		{"python disabled wins over version", graph.Options{"with_python": "False", "python_version": "3.10.2"}, "", false},
		{"pinned version", graph.Options{"python_version": "3.10.2"}, "3.10.2", true},
		{"enabled with version", graph.Options{"with_python": "True", "python_version": "3.11.0"}, "3.11.0", true},
		{"no options", nil, "3.9.7", true},
		{"enabled only", graph.Options{"with_python": "True"}, "3.9.7", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, ok := RuntimeVersion(tt.opts)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.version, version)
		})
	}
}

func TestEmbedsPython(t *testing.T) {
	assert.True(t, EmbedsPython(nil))
	assert.True(t, EmbedsPython(graph.Options{"with_python": "True"}))
	assert.False(t, EmbedsPython(graph.Options{"with_python": "False"}))
}

func TestRequirements(t *testing.T) {
	rcp, err := New("openassetio/1.0.0", ".")
	require.NoError(t, err)

	reqs := rcp.Requirements(graph.Options{"python_version": "3.10.2"})
	names := make([]string, len(reqs))
	for idx, req := range reqs {
		names[idx] = req.String()
	}

	assert.Equal(t, []string{
		"tool_requires cmake/3.25.1",
		"requires openssl/1.1.1s",
		"requires openassetio/1.0.0",
		"requires cpython/3.10.2",
	}, names)

	reqs = rcp.Requirements(graph.Options{"with_python": "False"})
	assert.Len(t, reqs, 3)
	for _, req := range reqs {
		assert.NotEqual(t, PythonName, req.Ref.Name)
	}
}

func TestNewRejectsOtherPackages(t *testing.T) {
	_, err := New("zlib/1.2.13", ".")
	assert.Error(t, err)

	_, err = New("openassetio", ".")
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	deps := resolveTested(t, "openassetio/1.0.0@py310/stable")

	require.Len(t, deps.ToolRequires, 1)
	assert.Equal(t, "cmake", deps.ToolRequires[0].Name())
	require.Len(t, deps.Requires, 3)
	assert.Equal(t, "cpython/3.10.2", deps.Dependency(PythonName).Ref)
	assert.Nil(t, deps.Dependency("zlib"))
	assert.Len(t, deps.All(), 4)
	assert.Equal(t, []string{"bin"}, deps.ToolDirs())

	deps = resolveTested(t, "openassetio/1.0.0@nopython/stable")
	assert.Nil(t, deps.Dependency(PythonName))
}

func TestResolveMissing(t *testing.T) {
	lock, err := graph.Parse([]byte("packages:\n  - ref: openassetio/1.0.0\n  - ref: openssl/1.1.1s\n"))
	require.NoError(t, err)

	rcp, err := New("openassetio/1.0.0", ".")
	require.NoError(t, err)

	_, err = rcp.Resolve(lock)
	var missing *graph.PackageMissing
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "cmake/3.25.1", missing.Ref)
}

func TestLayout(t *testing.T) {
	rcp := &Recipe{Dir: "/src/test_package"}

	layout := rcp.Layout(profile.Settings{"compiler": "gcc", "build_type": "Release"}, "")
	assert.Equal(t, "Unix Makefiles", layout.Generator)
	assert.False(t, layout.MultiConfig)
	assert.Equal(t, filepath.Join("/src/test_package", "build", "Release"), layout.BuildFolder)
	assert.Equal(t, filepath.Join("/src/test_package", "build", "Release", "generators"), layout.GeneratorsFolder)

	layout = rcp.Layout(profile.Settings{"compiler": "msvc", "compiler.version": "192", "build_type": "Debug"}, "")
	assert.Equal(t, "Visual Studio 16 2019", layout.Generator)
	assert.True(t, layout.MultiConfig)
	assert.Equal(t, filepath.Join("/src/test_package", "build"), layout.BuildFolder)

	layout = rcp.Layout(profile.Settings{"compiler": "gcc", "build_type": "Debug"}, "Ninja Multi-Config")
	assert.True(t, layout.MultiConfig)
	assert.Equal(t, filepath.Join("/src/test_package", "build", "generators"), layout.GeneratorsFolder)
}

func TestSetVariablesABI(t *testing.T) {
	deps := resolveTested(t, "openassetio/1.0.0@nopython/stable")

	tests := map[string]bool{
		"libstdc++11": true,
		"libstdc++":   false,
		"libc++":      false,
		"":            false,
	}

	for libcxx, want := range tests {
		vars := toolchain.NewVariables()
		err := SetVariables(vars, profile.Settings{"compiler": "gcc", "compiler.libcxx": libcxx}, deps)
		require.NoError(t, err)

		value, ok := vars.Get(VarCXX11ABI)
		require.True(t, ok)
		assert.Equal(t, want, value, libcxx)

		value, _ = vars.Get(VarEnablePython)
		assert.Equal(t, false, value)
		_, ok = vars.Get("Python_EXECUTABLE")
		assert.False(t, ok)
	}
}

func TestSetVariablesMSVC(t *testing.T) {
	deps := resolveTested(t, "openassetio/1.0.0")
	vars := toolchain.NewVariables()

	err := SetVariables(vars, profile.Settings{"os": "Windows", "compiler": "msvc"}, deps)
	require.NoError(t, err)

	value, _ := vars.Get(VarEnablePython)
	assert.Equal(t, true, value)

	value, _ = vars.Get("Python_EXECUTABLE")
	assert.Equal(t, "C:/Python39/python.exe", value)

	value, ok := vars.Get("Python_LIBRARY")
	require.True(t, ok)
	assert.Equal(t, "/opt/cpython/libs/python39.lib", value)

	_, ok = vars.Get("CMAKE_EXE_LINKER_FLAGS")
	assert.False(t, ok)
}

func TestSetVariablesMSVCAbsoluteLibDir(t *testing.T) {
	deps := resolveTested(t, "openassetio/1.0.0")
	libDir := t.TempDir()
	python := deps.Dependency(PythonName)
	python.CppInfo.Components = map[string]graph.Component{
		"embed": {LibDirs: []string{libDir}, Libs: []string{"python39.dll"}},
	}

	vars := toolchain.NewVariables()
	require.NoError(t, SetVariables(vars, profile.Settings{"os": "Windows", "compiler": "msvc"}, deps))

	value, _ := vars.Get("Python_LIBRARY")
	assert.Equal(t, toolchain.Posix(filepath.Join(libDir, "python39.lib")), value)

	python.CppInfo.Components["embed"] = graph.Component{LibDirs: []string{"libs"}, Libs: []string{".python39"}}
	vars = toolchain.NewVariables()
	require.NoError(t, SetVariables(vars, profile.Settings{"os": "Windows", "compiler": "msvc"}, deps))

	value, _ = vars.Get("Python_LIBRARY")
	assert.Equal(t, "/opt/cpython/libs/.python39.lib", value)
}

func TestSetVariablesClang(t *testing.T) {
	deps := resolveTested(t, "openassetio/1.0.0")
	vars := toolchain.NewVariables()

	err := SetVariables(vars, profile.Settings{"os": "Linux", "compiler": "clang"}, deps)
	require.NoError(t, err)

	value, _ := vars.Get("CMAKE_EXE_LINKER_FLAGS")
	assert.Equal(t, "-lpthread", value)
	_, ok := vars.Get("Python_LIBRARY")
	assert.False(t, ok)
}

func TestSetVariablesMissingMetadata(t *testing.T) {
	deps := resolveTested(t, "openassetio/1.0.0@py310/stable")

	err := SetVariables(toolchain.NewVariables(), profile.Settings{"compiler": "gcc"}, deps)
	var missing *graph.MetadataMissing
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "user_info.python", missing.Field)

	deps.Dependency(PythonName).UserInfo = map[string]string{"python": "/opt/cpython310/bin/python3"}
	err = SetVariables(toolchain.NewVariables(), profile.Settings{"compiler": "msvc"}, deps)
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "the embed component", missing.Field)
}

func TestGenerate(t *testing.T) {
	rcp, err := New("openassetio/1.0.0", t.TempDir())
	require.NoError(t, err)

	deps, err := rcp.Resolve(testLock(t))
	require.NoError(t, err)

	settings := profile.Settings{"os": "Windows", "arch": "x86_64", "compiler": "msvc", "compiler.runtime": "dynamic", "build_type": "Release"}
	layout := rcp.Layout(settings, "")

	gen, err := Generate(settings, layout, deps)
	require.NoError(t, err)

	// toolchain, two files per host requirement and two run env scripts
	assert.Len(t, gen.Files, 1+3*2+2)
	assert.Equal(t, filepath.Join(layout.GeneratorsFolder, toolchain.ToolchainFile), gen.Files[0])

	data, err := os.ReadFile(gen.Files[0])
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "set(OPENASSETIOTEST_ENABLE_PYTHON ON CACHE BOOL")
	assert.Contains(t, content, `set(Python_LIBRARY "/opt/cpython/libs/python39.lib" CACHE STRING`)

	for _, file := range gen.Files {
		if strings.HasSuffix(file, ".bat") {
			continue
		}
		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.NotContains(t, string(data), `\`, file)
	}

	_, err = os.Stat(filepath.Join(layout.GeneratorsFolder, "cmake-config.cmake"))
	assert.True(t, os.IsNotExist(err))
}
