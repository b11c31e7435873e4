package toolchain

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/syntax"

	"github.com/OpenAssetIO/conan-center-index/pkg/graph"
)

const (
	RunEnvScript      = "conanrun.sh"
	RunEnvBatchScript = "conanrun.bat"
)

// RunEnv collects the directories the test binaries need at runtime
type RunEnv struct {
	// OS is the host OS setting; it decides which library search variable is used
	OS   string
	Deps []*graph.Package
}

type envVar struct {
	name string
	dirs []string
}

func (r *RunEnv) libraryVar() string {
	switch r.OS {
	case "Windows":
		return ""
	case "Macos", "iOS":
		return "DYLD_LIBRARY_PATH"
	default:
		return "LD_LIBRARY_PATH"
	}
}

func (r *RunEnv) vars() []envVar {
	var binDirs, libDirs []string

	for _, pkg := range r.Deps {
		comps := []graph.Component{pkg.CppInfo.Component}
		for _, name := range pkg.ComponentNames() {
			comp, _ := pkg.Component(name)
			comps = append(comps, comp)
		}

		for _, comp := range comps {
			comp = comp.WithDefaults()
			binDirs = uniqueAppend(binDirs, graph.Dirs(pkg.PackageFolder, comp.BinDirs)...)
			libDirs = uniqueAppend(libDirs, graph.Dirs(pkg.PackageFolder, comp.LibDirs)...)
		}
	}

	result := []envVar{{name: "PATH", dirs: binDirs}}
	if libVar := r.libraryVar(); libVar != "" {
		result = append(result, envVar{name: libVar, dirs: libDirs})
	}

	return result
}

// Environ returns the final variable values for the current process: the package directories
// prepended to whatever getenv reports.
func (r *RunEnv) Environ(getenv func(string) string) map[string]string {
	sep := string(os.PathListSeparator)
	result := make(map[string]string)

	for _, v := range r.vars() {
		if len(v.dirs) == 0 {
			continue
		}

		value := strings.Join(v.dirs, sep)
		if existing := getenv(v.name); existing != "" {
			value += sep + existing
		}
		result[v.name] = value
	}

	return result
}

func shellEscape(value string) string {
	replacer := strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "$", "\\$", "`", "\\`")
	return replacer.Replace(value)
}

// ShellScript renders the POSIX activation script
func (r *RunEnv) ShellScript() (string, error) {
	file := &syntax.File{}

	for _, v := range r.vars() {
		if len(v.dirs) == 0 {
			continue
		}

		value := &syntax.Word{Parts: []syntax.WordPart{
			&syntax.DblQuoted{Parts: []syntax.WordPart{
				&syntax.Lit{Value: shellEscape(strings.Join(PosixList(v.dirs), ":")) + ":"},
				&syntax.ParamExp{Param: &syntax.Lit{Value: v.name}},
			}},
		}}

		file.Stmts = append(file.Stmts, &syntax.Stmt{
			Cmd: &syntax.DeclClause{
				Variant: &syntax.Lit{Value: "export"},
				Args: []*syntax.Assign{{
					Name:  &syntax.Lit{Value: v.name},
					Value: value,
				}},
			},
		})
	}

	buf := strings.Builder{}
	buf.WriteString("# Generated by testpkg. Source this file to run the test binaries.\n")
	err := syntax.NewPrinter().Print(&buf, file)
	if err != nil {
		return "", eris.Wrap(err, "failed to render run environment")
	}

	return buf.String(), nil
}

// BatchScript renders the Windows activation script
func (r *RunEnv) BatchScript() string {
	buf := strings.Builder{}
	buf.WriteString("@echo off\r\n")
	buf.WriteString("rem Generated by testpkg. Call this file to run the test binaries.\r\n")

	for _, v := range r.vars() {
		if len(v.dirs) == 0 {
			continue
		}

		dirs := make([]string, len(v.dirs))
		for idx, dir := range v.dirs {
			dirs[idx] = strings.ReplaceAll(dir, "/", "\\")
		}
		buf.WriteString("set \"" + v.name + "=" + strings.Join(dirs, ";") + ";%" + v.name + "%\"\r\n")
	}

	return buf.String()
}

// Generate writes both activation scripts into folder
func (r *RunEnv) Generate(folder string) ([]string, error) {
	err := os.MkdirAll(folder, 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", folder)
	}

	script, err := r.ShellScript()
	if err != nil {
		return nil, err
	}

	shPath := filepath.Join(folder, RunEnvScript)
	err = os.WriteFile(shPath, []byte(script), 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to write %s", shPath)
	}

	batPath := filepath.Join(folder, RunEnvBatchScript)
	err = os.WriteFile(batPath, []byte(r.BatchScript()), 0o660)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to write %s", batPath)
	}

	return []string{shPath, batPath}, nil
}
