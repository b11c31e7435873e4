package recipe

import (
	"path/filepath"

	"github.com/OpenAssetIO/conan-center-index/pkg/graph"
	"github.com/OpenAssetIO/conan-center-index/pkg/profile"
	"github.com/OpenAssetIO/conan-center-index/pkg/toolchain"
)

const (
	VarCXX11ABI     = "OPENASSETIOTEST_GLIBCXX_USE_CXX11_ABI"
	VarEnablePython = "OPENASSETIOTEST_ENABLE_PYTHON"
)

// Generated lists the outputs of Generate
type Generated struct {
	Toolchain     *toolchain.CMakeToolchain
	ToolchainFile string
	RunEnv        *toolchain.RunEnv
	Files         []string
}

// SetVariables fills the recipe specific toolchain variables
func SetVariables(vars *toolchain.Variables, settings profile.Settings, deps *Resolved) error {
	vars.SetBool(VarCXX11ABI, settings.GetSafe("compiler.libcxx") == "libstdc++11")

	embeds := EmbedsPython(deps.Tested.Options)
	vars.SetBool(VarEnablePython, embeds)
	if !embeds {
		return nil
	}

	python := deps.Dependency(PythonName)
	if python == nil {
		return &graph.PackageMissing{Ref: PythonName, Reason: "the tested package embeds Python"}
	}

	exe, ok := python.UserInfo["python"]
	if !ok || exe == "" {
		return &graph.MetadataMissing{Ref: python.Ref, Field: "user_info.python"}
	}
	vars.SetString("Python_EXECUTABLE", toolchain.Posix(exe))

	if settings.IsMSVC() {
		lib, err := pythonWindowsLib(python)
		if err != nil {
			return err
		}
		vars.SetString("Python_LIBRARY", lib)
	}

	if settings.Compiler() == "clang" {
		// cpython's package doesn't propagate its pthread dependency
		vars.SetString("CMAKE_EXE_LINKER_FLAGS", "-lpthread")
	}

	return nil
}

func pythonWindowsLib(python *graph.Package) (string, error) {
	embed, ok := python.Component("embed")
	if !ok {
		return "", &graph.MetadataMissing{Ref: python.Ref, Field: "the embed component"}
	}
	if len(embed.LibDirs) == 0 {
		return "", &graph.MetadataMissing{Ref: python.Ref, Field: "embed.libdirs"}
	}
	if len(embed.Libs) == 0 {
		return "", &graph.MetadataMissing{Ref: python.Ref, Field: "embed.libs"}
	}

	libDir := graph.Dirs(python.PackageFolder, embed.LibDirs[:1])[0]
	lib := filepath.Join(libDir, embed.Libs[0])
	return toolchain.WithSuffix(lib, ".lib"), nil
}

// Generate writes the toolchain, the dependency descriptors and the run environment into
// the layout's generators folder.
func Generate(settings profile.Settings, layout Layout, deps *Resolved) (*Generated, error) {
	tc := toolchain.NewCMakeToolchain(settings, layout.GeneratorsFolder, layout.MultiConfig)
	err := SetVariables(tc.Variables, settings, deps)
	if err != nil {
		return nil, err
	}

	result := &Generated{
		Toolchain: tc,
		RunEnv:    &toolchain.RunEnv{OS: settings.OS(), Deps: deps.Requires},
	}

	tcFile, err := tc.Generate()
	if err != nil {
		return nil, err
	}
	result.ToolchainFile = tcFile
	result.Files = append(result.Files, tcFile)

	cmakeDeps := toolchain.CMakeDeps{GeneratorsFolder: layout.GeneratorsFolder, Deps: deps.Requires}
	depFiles, err := cmakeDeps.Generate()
	if err != nil {
		return nil, err
	}
	result.Files = append(result.Files, depFiles...)

	envFiles, err := result.RunEnv.Generate(layout.GeneratorsFolder)
	if err != nil {
		return nil, err
	}
	result.Files = append(result.Files, envFiles...)

	return result, nil
}
