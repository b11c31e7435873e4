package toolchain

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/OpenAssetIO/conan-center-index/pkg/graph"
)

// CMakeDeps generates a package config file (and a version file) for each dependency so
// find_package() can locate them without any system installation.
type CMakeDeps struct {
	GeneratorsFolder string
	Deps             []*graph.Package
}

// ConfigFileName returns the name of the config file generated for a package
func ConfigFileName(name string) string {
	return strings.ToLower(name) + "-config.cmake"
}

// VersionFileName returns the name of the version file generated for a package
func VersionFileName(name string) string {
	return strings.ToLower(name) + "-config-version.cmake"
}

type targetInfo struct {
	name        string
	includeDirs []string
	libDirs     []string
	libs        []string
	defines     []string
}

func componentTarget(target string, folder string, comp graph.Component) targetInfo {
	comp = comp.WithDefaults()
	libs := append([]string{}, comp.Libs...)
	libs = append(libs, comp.SystemLibs...)

	return targetInfo{
		name:        target,
		includeDirs: PosixList(graph.Dirs(folder, comp.IncludeDirs)),
		libDirs:     PosixList(graph.Dirs(folder, comp.LibDirs)),
		libs:        libs,
		defines:     comp.Defines,
	}
}

func writeTarget(buf *strings.Builder, target targetInfo) {
	buf.WriteString("if(NOT TARGET " + target.name + ")\n")
	buf.WriteString("    add_library(" + target.name + " INTERFACE IMPORTED)\n")
	buf.WriteString("    set_target_properties(" + target.name + " PROPERTIES\n")
	buf.WriteString("        INTERFACE_INCLUDE_DIRECTORIES " + cmakeList(target.includeDirs) + "\n")
	buf.WriteString("        INTERFACE_LINK_DIRECTORIES " + cmakeList(target.libDirs) + "\n")
	buf.WriteString("        INTERFACE_LINK_LIBRARIES " + cmakeList(target.libs) + "\n")
	buf.WriteString("        INTERFACE_COMPILE_DEFINITIONS " + cmakeList(target.defines) + ")\n")
	buf.WriteString("endif()\n")
}

// ConfigContent renders the config file for pkg
func ConfigContent(pkg *graph.Package) string {
	name := pkg.Name()
	folder := pkg.PackageFolder
	buf := strings.Builder{}

	buf.WriteString("# Generated by testpkg for " + pkg.Ref + "\n")
	buf.WriteString("set(" + name + "_FOUND TRUE)\n")
	buf.WriteString("set(" + name + "_VERSION " + cmakeQuote(pkg.Reference().Version) + ")\n")
	buf.WriteString("set(" + name + "_PACKAGE_FOLDER " + cmakeQuote(Posix(folder)) + ")\n\n")

	root := componentTarget(name+"::"+name, folder, pkg.CppInfo.Component)
	componentTargets := make([]string, 0, len(pkg.CppInfo.Components))
	includeDirs := append([]string{}, root.includeDirs...)
	libDirs := append([]string{}, root.libDirs...)

	for _, compName := range pkg.ComponentNames() {
		comp, _ := pkg.Component(compName)
		target := componentTarget(name+"::"+compName, folder, comp)
		componentTargets = append(componentTargets, target.name)
		includeDirs = uniqueAppend(includeDirs, target.includeDirs...)
		libDirs = uniqueAppend(libDirs, target.libDirs...)

		writeTarget(&buf, target)
	}

	// the global target pulls in all components
	root.libs = append(root.libs, componentTargets...)
	writeTarget(&buf, root)

	buf.WriteString("\nset(" + name + "_INCLUDE_DIRS " + cmakeList(includeDirs) + ")\n")
	buf.WriteString("set(" + name + "_LIB_DIRS " + cmakeList(libDirs) + ")\n")
	buf.WriteString("set(" + name + "_LIBRARIES " + name + "::" + name + ")\n")

	return buf.String()
}

// VersionContent renders the version file for pkg. Any newer or equal version is compatible.
func VersionContent(pkg *graph.Package) string {
	buf := strings.Builder{}
	buf.WriteString("# Generated by testpkg for " + pkg.Ref + "\n")
	buf.WriteString("set(PACKAGE_VERSION " + cmakeQuote(pkg.Reference().Version) + ")\n\n")
	buf.WriteString("if(PACKAGE_VERSION VERSION_LESS PACKAGE_FIND_VERSION)\n")
	buf.WriteString("    set(PACKAGE_VERSION_COMPATIBLE FALSE)\n")
	buf.WriteString("else()\n")
	buf.WriteString("    set(PACKAGE_VERSION_COMPATIBLE TRUE)\n")
	buf.WriteString("    if(PACKAGE_FIND_VERSION STREQUAL PACKAGE_VERSION)\n")
	buf.WriteString("        set(PACKAGE_VERSION_EXACT TRUE)\n")
	buf.WriteString("    endif()\n")
	buf.WriteString("endif()\n")
	return buf.String()
}

// Generate writes the descriptor files and returns their paths
func (d *CMakeDeps) Generate() ([]string, error) {
	err := os.MkdirAll(d.GeneratorsFolder, 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", d.GeneratorsFolder)
	}

	written := make([]string, 0, len(d.Deps)*2)
	for _, pkg := range d.Deps {
		files := map[string]string{
			ConfigFileName(pkg.Name()):  ConfigContent(pkg),
			VersionFileName(pkg.Name()): VersionContent(pkg),
		}

		for _, fname := range []string{ConfigFileName(pkg.Name()), VersionFileName(pkg.Name())} {
			dest := filepath.Join(d.GeneratorsFolder, fname)
			err = os.WriteFile(dest, []byte(files[fname]), 0o660)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to write %s", dest)
			}
			written = append(written, dest)
		}
	}

	return written, nil
}
