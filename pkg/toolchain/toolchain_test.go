package toolchain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenAssetIO/conan-center-index/pkg/graph"
	"github.com/OpenAssetIO/conan-center-index/pkg/profile"
)

func TestPosix(t *testing.T) {
	assert.Equal(t, "C:/Python/libs/python39.lib", Posix(`C:\Python\libs\python39.lib`))
	assert.Equal(t, "/opt/python", Posix("/opt/python"))
}

func TestWithSuffix(t *testing.T) {
	tests := map[string]string{
		"/p/libs/python39":     "/p/libs/python39.lib",
		"/p/libs/python39.dll": "/p/libs/python39.lib",
		`C:\p\libs\python3.a`:  "C:/p/libs/python3.lib",
		"/p.d/libs/python":     "/p.d/libs/python.lib",
		"/p/libs/.python39":    "/p/libs/.python39.lib",
		"/p/libs/python39.":    "/p/libs/python39..lib",
		"/p/libs/py.tar.gz":    "/p/libs/py.tar.lib",
	}

	for input, want := range tests {
		assert.Equal(t, want, WithSuffix(input, ".lib"), input)
	}
}

func TestToolchainContent(t *testing.T) {
	settings := profile.Settings{"build_type": "Release", "compiler": "gcc", "compiler.libcxx": "libstdc++"}
	tc := NewCMakeToolchain(settings, `C:\work\build\generators`, false)
	tc.Variables.SetBool("ENABLE_A", true)
	tc.Variables.SetBool("ENABLE_B", false)
	tc.Variables.SetString("SOME_PATH", "/opt/x")
	tc.Variables.SetBool("ENABLE_A", false)

	content := tc.Content()
	assert.Contains(t, content, `set(CMAKE_BUILD_TYPE "Release" CACHE STRING`)
	assert.Contains(t, content, "add_compile_definitions(_GLIBCXX_USE_CXX11_ABI=0)")
	assert.Contains(t, content, `list(PREPEND CMAKE_PREFIX_PATH "C:/work/build/generators")`)
	assert.Contains(t, content, "set(ENABLE_A OFF CACHE BOOL")
	assert.Contains(t, content, "set(ENABLE_B OFF CACHE BOOL")
	assert.Contains(t, content, `set(SOME_PATH "/opt/x" CACHE STRING`)
	assert.NotContains(t, content, `\`)

	// re-setting a variable keeps its original position
	assert.Equal(t, []string{"ENABLE_A", "ENABLE_B", "SOME_PATH"}, tc.Variables.Names())
	assert.Less(t, strings.Index(content, "ENABLE_A"), strings.Index(content, "ENABLE_B"))
}

func TestToolchainMultiConfig(t *testing.T) {
	settings := profile.Settings{"build_type": "Debug", "compiler": "msvc", "compiler.runtime": "dynamic"}
	content := NewCMakeToolchain(settings, "/gen", true).Content()

	assert.NotContains(t, content, "CMAKE_BUILD_TYPE")
	assert.Contains(t, content, `set(CMAKE_MSVC_RUNTIME_LIBRARY "MultiThreadedDebugDLL")`)
}

func TestMSVCRuntimeLibrary(t *testing.T) {
	tests := []struct {
		runtime, buildType, want string
	}{
		{"static", "Release", "MultiThreaded"},
		{"static", "Debug", "MultiThreadedDebug"},
		{"dynamic", "Release", "MultiThreadedDLL"},
		{"MDd", "Release", "MultiThreadedDebugDLL"},
		{"MT", "Debug", "MultiThreaded"},
		{"", "Release", ""},
	}

	for _, tt := range tests {
		settings := profile.Settings{"compiler": "msvc", "compiler.runtime": tt.runtime, "build_type": tt.buildType}
		assert.Equal(t, tt.want, msvcRuntimeLibrary(settings), tt.runtime+"/"+tt.buildType)
	}
}

func TestToolchainGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "generators")
	tc := NewCMakeToolchain(profile.Settings{"build_type": "Release"}, dir, false)

	path, err := tc.Generate()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ToolchainFile), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, tc.Content(), string(data))
}

func testPackages(t *testing.T, root string) []*graph.Package {
	lock, err := graph.Parse([]byte(`
packages:
  - ref: openssl/1.1.1s
    cpp_info:
      components:
        ssl:
          libs: [ssl]
        crypto:
          libs: [crypto]
          system_libs: [dl, pthread]
  - ref: cpython/3.9.7
    cpp_info:
      libdirs: [lib64]
      components:
        embed:
          libdirs: [libs]
          libs: [python39]
`))
	require.NoError(t, err)
	lock.ResolveFolders(root)
	return lock.Packages
}

func TestConfigContent(t *testing.T) {
	deps := testPackages(t, "/cache")
	content := ConfigContent(deps[0])

	assert.Contains(t, content, "set(openssl_FOUND TRUE)")
	assert.Contains(t, content, `set(openssl_VERSION "1.1.1s")`)
	assert.Contains(t, content, "add_library(openssl::ssl INTERFACE IMPORTED)")
	assert.Contains(t, content, "add_library(openssl::crypto INTERFACE IMPORTED)")
	assert.Contains(t, content, `INTERFACE_LINK_LIBRARIES "crypto;dl;pthread"`)
	assert.Contains(t, content, `INTERFACE_LINK_LIBRARIES "openssl::crypto;openssl::ssl"`)
	assert.Contains(t, content, `INTERFACE_INCLUDE_DIRECTORIES "/cache/p/openssl/1.1.1s/include"`)

	// the global target is declared after its components
	assert.Less(t, strings.Index(content, "openssl::ssl INTERFACE"), strings.Index(content, "openssl::openssl INTERFACE"))
}

func TestCMakeDepsGenerate(t *testing.T) {
	dir := t.TempDir()
	deps := CMakeDeps{GeneratorsFolder: dir, Deps: testPackages(t, dir)}

	files, err := deps.Generate()
	require.NoError(t, err)
	assert.Len(t, files, 4)

	for _, name := range []string{"openssl-config.cmake", "openssl-config-version.cmake", "cpython-config.cmake", "cpython-config-version.cmake"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.NotContains(t, string(data), `\`, name)
	}

	version, err := os.ReadFile(filepath.Join(dir, "cpython-config-version.cmake"))
	require.NoError(t, err)
	assert.Contains(t, string(version), `set(PACKAGE_VERSION "3.9.7")`)
}

func TestRunEnvEnviron(t *testing.T) {
	env := RunEnv{OS: "Linux", Deps: testPackages(t, "/cache")}
	sep := string(os.PathListSeparator)

	values := env.Environ(func(name string) string {
		if name == "PATH" {
			return "/usr/bin"
		}
		return ""
	})

	assert.Equal(t, strings.Join([]string{
		filepath.Join("/cache", "p", "openssl", "1.1.1s", "bin"),
		filepath.Join("/cache", "p", "cpython", "3.9.7", "bin"),
		"/usr/bin",
	}, sep), values["PATH"])
	assert.Contains(t, values["LD_LIBRARY_PATH"], filepath.Join("/cache", "p", "cpython", "3.9.7", "libs"))
	assert.NotContains(t, values, "DYLD_LIBRARY_PATH")
}

func TestRunEnvScripts(t *testing.T) {
	env := RunEnv{OS: "Macos", Deps: testPackages(t, "/cache")}

	script, err := env.ShellScript()
	require.NoError(t, err)
	assert.Contains(t, script, `export PATH="/cache/p/openssl/1.1.1s/bin:/cache/p/cpython/3.9.7/bin:${PATH}"`)
	assert.Contains(t, script, "export DYLD_LIBRARY_PATH=")

	batch := (&RunEnv{OS: "Windows", Deps: testPackages(t, "/cache")}).BatchScript()
	assert.Contains(t, batch, `set "PATH=`)
	assert.Contains(t, batch, `;%PATH%"`)
	assert.NotContains(t, batch, "LD_LIBRARY_PATH")
}

func TestRunEnvGenerate(t *testing.T) {
	dir := t.TempDir()
	env := RunEnv{OS: "Linux", Deps: testPackages(t, "/cache")}

	files, err := env.Generate(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, RunEnvScript), filepath.Join(dir, RunEnvBatchScript)}, files)
}
