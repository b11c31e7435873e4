package driver

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenAssetIO/conan-center-index/pkg/buildsys"
	"github.com/OpenAssetIO/conan-center-index/pkg/profile"
	"github.com/OpenAssetIO/conan-center-index/pkg/recipe"
	"github.com/OpenAssetIO/conan-center-index/pkg/toolchain"
)

type fakeSteps struct {
	calls []string
	fail  map[string]error
}

func (f *fakeSteps) Run(ctx context.Context, name string) error {
	f.calls = append(f.calls, name)
	return f.fail[name]
}

func testContext() context.Context {
	logger := zerolog.Nop()
	return buildsys.WithLogger(context.Background(), &logger)
}

func TestDriverRunsAllSteps(t *testing.T) {
	steps := &fakeSteps{}
	drv := Driver{Steps: steps, CanRun: true}

	require.NoError(t, drv.Run(testContext()))
	assert.Equal(t, []string{"configure", "build", "test"}, steps.calls)
}

func TestDriverSkipsTestWhenHostCantRun(t *testing.T) {
	steps := &fakeSteps{}
	drv := Driver{Steps: steps, CanRun: false}

	require.NoError(t, drv.Run(testContext()))
	assert.Equal(t, []string{"configure", "build"}, steps.calls)
}

func TestDriverStopsOnFailure(t *testing.T) {
	buildErr := errors.New("compile error")
	steps := &fakeSteps{fail: map[string]error{"build": buildErr}}
	drv := Driver{Steps: steps, CanRun: true}

	err := drv.Run(testContext())
	assert.Same(t, buildErr, err)
	assert.Equal(t, []string{"configure", "build"}, steps.calls)

	configureErr := errors.New("no compiler")
	steps = &fakeSteps{fail: map[string]error{"configure": configureErr}}
	drv = Driver{Steps: steps, CanRun: true}
	assert.Same(t, configureErr, drv.Run(testContext()))
	assert.Equal(t, []string{"configure"}, steps.calls)
}

func testConfig(t *testing.T) *Config {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CMakeLists.txt"), []byte("project(test_package)\n"), 0o600))

	settings := profile.Settings{"os": "Linux", "arch": "x86_64", "compiler": "gcc", "build_type": "Release"}
	layout := (&recipe.Recipe{Dir: dir}).Layout(settings, "")

	require.NoError(t, os.MkdirAll(layout.GeneratorsFolder, 0o700))
	tcFile := filepath.Join(layout.GeneratorsFolder, toolchain.ToolchainFile)
	require.NoError(t, os.WriteFile(tcFile, []byte("# toolchain\n"), 0o600))

	return &Config{
		Settings: settings,
		Layout:   layout,
		Generated: &recipe.Generated{
			ToolchainFile: tcFile,
			RunEnv:        &toolchain.RunEnv{OS: "Linux"},
		},
		Jobs:   4,
		CanRun: true,
		Getenv: func(string) string { return "" },
	}
}

func commands(task *buildsys.Task) []string {
	result := make([]string, 0, len(task.Cmds))
	for _, cmd := range task.Cmds {
		result = append(result, cmd.(buildsys.TaskCmdScript).Content)
	}
	return result
}

func TestPlanDefaultScript(t *testing.T) {
	cfg := testConfig(t)

	plan, err := Plan(testContext(), cfg)
	require.NoError(t, err)
	assert.True(t, plan.CanRun)
	assert.Equal(t, "cmake", plan.Options["cmake"])

	configure := commands(plan.Tasks["configure"])
	require.Len(t, configure, 1)
	assert.Contains(t, configure[0], "-G 'Unix Makefiles'")
	assert.Contains(t, configure[0], "-DCMAKE_TOOLCHAIN_FILE="+filepath.ToSlash(cfg.Generated.ToolchainFile))
	assert.Contains(t, configure[0], "-DCMAKE_BUILD_TYPE=Release")

	build := commands(plan.Tasks["build"])
	require.Len(t, build, 1)
	assert.True(t, strings.HasSuffix(build[0], "--parallel 4"), build[0])
	assert.NotContains(t, build[0], "--config")

	test := plan.Tasks["test"]
	assert.Equal(t, []string{"build"}, test.Deps)
	assert.Equal(t, "1", test.Env["CTEST_OUTPUT_ON_FAILURE"])
	assert.Contains(t, commands(test)[0], "--target test")
}

func TestPlanCustomScript(t *testing.T) {
	cfg := testConfig(t)
	script := `
def steps():
    task(short = "configure", cmds = ["echo configure"])
    task(short = "build", cmds = ["echo " + TEST_TARGET])
`
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Layout.SourceFolder, ScriptName), []byte(script), 0o600))

	_, err := Plan(testContext(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test step")
}

const builtinsScript = `
greeting = getenv("TESTPKG_TEST_GREETING")
info("greeting is " + greeting)

def steps():
    if not isdir("data") or isdir("missing"):
        error("data folder not found")
    if not isfile("data/deps.yaml") or isfile("data"):
        error("deps.yaml not found")

    deps = "data/deps.yaml"
    version = read_yaml(deps, "python.version")
    component = read_yaml(deps, "components.0.name")
    abi = read_yaml(deps, "python.abi", "none")
    if not read_yaml(deps, "python.embed", True):
        warn("python is not embedded")

    setenv("PYTHON_VERSION", version)
    prepend_path("tools/bin")
    if load_vcvars("amd64"):
        error("vcvars loaded outside of Windows")

    echoed = execute("echo " + getenv("PYTHON_VERSION")).strip()
    parsed = execute(("echo", '{"component": "%s"}' % component), format = "json")
    if execute("false"):
        error("false succeeded")

    task(
        short = "configure",
        base = SOURCE_DIR,
        env = {
            "DEPS_FILE": resolve_path(deps),
            "DEPS_REL": resolve_path("//" + deps, base = SOURCE_DIR),
        },
        cmds = [["echo", echoed, parsed["component"], abi]],
    )
    task(short = "build", deps = ["configure"], cmds = ["echo " + version])
    task(short = "test", deps = ["build"], env = {"PYTHON_VERSION": "override"}, cmds = ["echo " + greeting])
`

func TestPlanScriptBuiltins(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("load_vcvars needs a Visual Studio installation on Windows")
	}

	cfg := testConfig(t)
	src := cfg.Layout.SourceFolder
	require.NoError(t, os.WriteFile(filepath.Join(src, ScriptName), []byte(builtinsScript), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "data"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(src, "data", "deps.yaml"), []byte(`
python:
  version: "3.9.7"
  embed: false
components:
  - name: ssl
  - name: crypto
`), 0o600))
	t.Setenv("TESTPKG_TEST_GREETING", "hi")

	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	ctx := buildsys.WithLogger(context.Background(), &logger)

	plan, err := Plan(ctx, cfg)
	require.NoError(t, err)

	configure := plan.Tasks["configure"]
	assert.Equal(t, src, configure.Base)
	assert.Equal(t, []string{"echo 3.9.7 ssl none"}, commands(configure))
	assert.Equal(t, filepath.Join(src, "data", "deps.yaml"), configure.Env["DEPS_FILE"])
	assert.Equal(t, filepath.Join("data", "deps.yaml"), configure.Env["DEPS_REL"])
	assert.Equal(t, "3.9.7", configure.Env["PYTHON_VERSION"])
	assert.True(t, strings.HasPrefix(configure.Env["PATH"], filepath.Join(src, "tools", "bin")+string(os.PathListSeparator)),
		configure.Env["PATH"])

	build := plan.Tasks["build"]
	assert.Equal(t, []string{"echo 3.9.7"}, commands(build))
	assert.Equal(t, "3.9.7", build.Env["PYTHON_VERSION"])

	test := plan.Tasks["test"]
	assert.Equal(t, []string{"echo hi"}, commands(test))
	assert.Equal(t, "override", test.Env["PYTHON_VERSION"])

	output := logs.String()
	assert.Contains(t, output, "greeting is hi")
	assert.Contains(t, output, "python is not embedded")
	assert.Contains(t, output, `"level":"warn"`)
	assert.Contains(t, output, "//"+ScriptName)
}

func TestPlanScriptError(t *testing.T) {
	cfg := testConfig(t)
	script := `
def steps():
    if not isfile("data/deps.yaml"):
        error("deps.yaml not found")
`
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Layout.SourceFolder, ScriptName), []byte(script), 0o600))

	_, err := Plan(testContext(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deps.yaml not found")
}

func TestPlanDefaultScriptToolPath(t *testing.T) {
	cfg := testConfig(t)
	toolDir := t.TempDir()
	cfg.ToolDirs = []string{toolDir}

	plan, err := Plan(testContext(), cfg)
	require.NoError(t, err)

	for _, step := range StepOrder {
		env := plan.Tasks[step].Env
		assert.True(t, strings.HasPrefix(env["PATH"], toolDir+string(os.PathListSeparator)), step)
	}
}

func TestPlanOptionOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.Options = map[string]string{"cmake": "/opt/cmake/bin/cmake", "verbose": "true"}

	plan, err := Plan(testContext(), cfg)
	require.NoError(t, err)

	build := commands(plan.Tasks["build"])[0]
	assert.True(t, strings.HasPrefix(build, "/opt/cmake/bin/cmake --build"), build)
	assert.Contains(t, build, "--verbose")
}

func TestGlobals(t *testing.T) {
	cfg := testConfig(t)
	cfg.Settings = profile.Settings{"os": "Windows", "arch": "x86", "compiler": "msvc", "build_type": "Debug"}
	cfg.Layout = recipe.Layout{SourceFolder: `C:\src`, BuildFolder: `C:\src\build`, Generator: "Visual Studio 17 2022", MultiConfig: true}

	globals := Globals(cfg)
	assert.Equal(t, "C:/src", globals["SOURCE_DIR"])
	assert.Equal(t, "C:/src/build", globals["BUILD_DIR"])
	assert.Equal(t, "RUN_TESTS", globals["TEST_TARGET"])
	assert.Equal(t, "x86", globals["VCVARS_ARCH"])
	assert.Equal(t, true, globals["MULTI_CONFIG"])
	assert.Equal(t, "cmake", globals["CMAKE"])
}

func TestGlobalsFindsToolCMake(t *testing.T) {
	cfg := testConfig(t)
	binDir := t.TempDir()
	name := "cmake"
	if filepath.Separator == '\\' {
		name = "cmake.exe"
	}
	require.NoError(t, os.WriteFile(filepath.Join(binDir, name), []byte{}, 0o700))
	cfg.ToolDirs = []string{binDir}

	globals := Globals(cfg)
	assert.Equal(t, filepath.ToSlash(filepath.Join(binDir, name)), globals["CMAKE"])
}

func TestBuildDryRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.CanRun = false

	plan, err := Plan(testContext(), cfg)
	require.NoError(t, err)

	file := PlanFile(cfg.Layout.SourceFolder)
	require.NoError(t, buildsys.WriteCache(file, plan))

	cached, err := buildsys.ReadCache(file)
	require.NoError(t, err)
	assert.False(t, cached.CanRun)

	require.NoError(t, Build(testContext(), cached, cfg.Layout.SourceFolder, true, false))
	require.NoError(t, Build(testContext(), cached, cfg.Layout.SourceFolder, true, false, StepConfigure))
	assert.Error(t, Build(testContext(), cached, cfg.Layout.SourceFolder, true, false, "package"))
}
