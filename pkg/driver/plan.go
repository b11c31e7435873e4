package driver

import (
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/OpenAssetIO/conan-center-index/pkg/buildsys"
	"github.com/OpenAssetIO/conan-center-index/pkg/profile"
	"github.com/OpenAssetIO/conan-center-index/pkg/recipe"
	"github.com/OpenAssetIO/conan-center-index/pkg/toolchain"
)

//go:embed steps.star
var defaultSteps []byte

const (
	// ScriptName is the step script a test package can ship to replace the default steps
	ScriptName = "testpkg.star"
	// PlanName is the plan cache written by the generate phase
	PlanName = "testpkg.plan"
)

// Config collects everything the step script needs to declare the steps
type Config struct {
	Settings  profile.Settings
	Layout    recipe.Layout
	Generated *recipe.Generated
	// CMake is the configured CMake program. It's replaced by the tool package's binary if
	// one of ToolDirs contains it.
	CMake    string
	Jobs     int
	ToolDirs []string
	// Options are passed to the script's option() calls
	Options map[string]string
	CanRun  bool
	// Getenv reads the process environment. Defaults to os.Getenv.
	Getenv func(string) string
}

// PlanFile returns the location of the plan cache for a test package directory
func PlanFile(dir string) string {
	return filepath.Join(dir, "build", PlanName)
}

// LoadScript returns the test package's own step script or the built-in default
func LoadScript(dir string) (string, []byte, error) {
	custom := filepath.Join(dir, ScriptName)
	content, err := os.ReadFile(custom)
	if err == nil {
		return custom, content, nil
	}
	if !eris.Is(err, os.ErrNotExist) {
		return "", nil, eris.Wrapf(err, "failed to read %s", custom)
	}

	return filepath.Join(dir, "steps.star"), defaultSteps, nil
}

func findProgram(dirs []string, name string) string {
	candidates := []string{name}
	if runtime.GOOS == "windows" {
		candidates = append([]string{name + ".exe"}, candidates...)
	}

	for _, dir := range dirs {
		for _, candidate := range candidates {
			path := filepath.Join(dir, candidate)
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				return path
			}
		}
	}
	return ""
}

func testTarget(generator string) string {
	if strings.HasPrefix(generator, "Visual Studio") || generator == "Xcode" {
		return "RUN_TESTS"
	}
	return "test"
}

func vcvarsArch(settings profile.Settings) string {
	if !settings.IsMSVC() {
		return ""
	}

	switch settings.Arch() {
	case "x86":
		return "x86"
	case "armv8":
		return "amd64_arm64"
	default:
		return "amd64"
	}
}

// Globals returns the values predeclared in the step script. Paths use forward slashes.
func Globals(cfg *Config) map[string]interface{} {
	getenv := cfg.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	cmake := cfg.CMake
	if cmake == "" || cmake == "cmake" {
		if found := findProgram(cfg.ToolDirs, "cmake"); found != "" {
			cmake = found
		} else {
			cmake = "cmake"
		}
	}

	runEnv := map[string]string{}
	toolchainFile := ""
	if cfg.Generated != nil {
		runEnv = cfg.Generated.RunEnv.Environ(getenv)
		toolchainFile = cfg.Generated.ToolchainFile
	}

	return map[string]interface{}{
		"OS":             cfg.Settings.OS(),
		"ARCH":           cfg.Settings.Arch(),
		"SETTINGS":       map[string]string(cfg.Settings),
		"BUILD_TYPE":     cfg.Settings.BuildType(),
		"GENERATOR":      cfg.Layout.Generator,
		"MULTI_CONFIG":   cfg.Layout.MultiConfig,
		"SOURCE_DIR":     toolchain.Posix(cfg.Layout.SourceFolder),
		"BUILD_DIR":      toolchain.Posix(cfg.Layout.BuildFolder),
		"GENERATORS_DIR": toolchain.Posix(cfg.Layout.GeneratorsFolder),
		"TOOLCHAIN_FILE": toolchain.Posix(toolchainFile),
		"RUN_ENV":        runEnv,
		"TEST_TARGET":    testTarget(cfg.Layout.Generator),
		"JOBS":           cfg.Jobs,
		"CMAKE":          toolchain.Posix(cmake),
		"BUILD_PATH":     toolchain.PosixList(cfg.ToolDirs),
		"VCVARS_ARCH":    vcvarsArch(cfg.Settings),
		"CAN_RUN":        cfg.CanRun,
	}
}

// Plan runs the step script and returns the resulting build plan
func Plan(ctx context.Context, cfg *Config) (*buildsys.Plan, error) {
	filename, source, err := LoadScript(cfg.Layout.SourceFolder)
	if err != nil {
		return nil, err
	}

	buildsys.Log(ctx).Debug().Str("path", filename).Msg("loading step script")

	script, err := buildsys.RunScript(ctx, buildsys.ScriptConfig{
		Filename:    filename,
		Source:      source,
		ProjectRoot: cfg.Layout.SourceFolder,
		Options:     cfg.Options,
		Globals:     Globals(cfg),
	})
	if err != nil {
		return nil, err
	}

	for _, step := range StepOrder {
		if _, ok := script.Tasks[step]; !ok {
			return nil, eris.Errorf("%s did not declare the %s step", filename, step)
		}
	}

	return &buildsys.Plan{
		Options: script.OptionValues,
		Tasks:   script.Tasks,
		CanRun:  cfg.CanRun,
	}, nil
}

// Build runs the steps of a cached plan. An empty step list runs all steps.
func Build(ctx context.Context, plan *buildsys.Plan, dir string, dryRun, force bool, steps ...string) error {
	runner := buildsys.NewRunner(plan.Tasks, dir)
	runner.DryRun = dryRun
	runner.Force = force

	drv := &Driver{Steps: runner, CanRun: plan.CanRun}
	if len(steps) == 0 {
		return drv.Run(ctx)
	}

	for _, step := range steps {
		err := drv.RunStep(ctx, step)
		if err != nil {
			return err
		}
	}
	return nil
}
