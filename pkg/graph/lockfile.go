package graph

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Component describes the consumable parts of a package (or one of its components). All
// directories are relative to the package folder.
type Component struct {
	IncludeDirs []string `yaml:"includedirs,omitempty"`
	LibDirs     []string `yaml:"libdirs,omitempty"`
	BinDirs     []string `yaml:"bindirs,omitempty"`
	Libs        []string `yaml:"libs,omitempty"`
	SystemLibs  []string `yaml:"system_libs,omitempty"`
	Defines     []string `yaml:"defines,omitempty"`
}

// CppInfo is the root component of a package plus its named components
type CppInfo struct {
	Component  `yaml:",inline"`
	Components map[string]Component `yaml:"components,omitempty"`
}

// Package is a single resolved entry in the lockfile
type Package struct {
	Ref           string            `yaml:"ref"`
	Options       Options           `yaml:"options,omitempty"`
	PackageFolder string            `yaml:"package_folder,omitempty"`
	CppInfo       CppInfo           `yaml:"cpp_info,omitempty"`
	UserInfo      map[string]string `yaml:"user_info,omitempty"`

	// download information, only needed if the package isn't available locally yet
	URL      string   `yaml:"url,omitempty"`
	Sha256   string   `yaml:"sha256,omitempty"`
	Strip    int      `yaml:"strip,omitempty"`
	MarkExec []string `yaml:"mark_exec,omitempty"`

	reference Reference
}

// Lockfile is the package manager's snapshot of all available packages
type Lockfile struct {
	Version  int        `yaml:"version"`
	Packages []*Package `yaml:"packages"`

	dir string
}

// Load reads the lockfile at path. Relative package folders are resolved relative to the
// lockfile's directory.
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read lockfile %s", path)
	}

	lock, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", path)
	}

	lock.dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", path)
	}

	return lock, nil
}

// Parse decodes a YAML lockfile
func Parse(data []byte) (*Lockfile, error) {
	var lock Lockfile
	err := yaml.Unmarshal(data, &lock)
	if err != nil {
		return nil, eris.Wrap(err, "failed to decode lockfile")
	}

	if lock.Version > 1 {
		return nil, eris.Errorf("unsupported lockfile version %d", lock.Version)
	}

	for idx, pkg := range lock.Packages {
		pkg.reference, err = ParseReference(pkg.Ref)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid entry #%d", idx)
		}

		if pkg.reference.IsRange() {
			return nil, eris.Errorf("entry %s must use an exact version", pkg.Ref)
		}
	}

	return &lock, nil
}

// Reference returns the parsed reference of this package
func (p *Package) Reference() Reference {
	return p.reference
}

// Name is a shortcut for the package's name
func (p *Package) Name() string {
	return p.reference.Name
}

// Component returns the named component or false if the package doesn't declare it
func (p *Package) Component(name string) (Component, bool) {
	comp, ok := p.CppInfo.Components[name]
	return comp, ok
}

// ComponentNames returns the names of all components in a stable order
func (p *Package) ComponentNames() []string {
	names := make([]string, 0, len(p.CppInfo.Components))
	for name := range p.CppInfo.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveFolders assigns an absolute package folder to every package. Packages without a
// folder are placed in cacheDir/p/<name>/<version>.
func (l *Lockfile) ResolveFolders(cacheDir string) {
	for _, pkg := range l.Packages {
		switch {
		case pkg.PackageFolder == "":
			pkg.PackageFolder = filepath.Join(cacheDir, "p", pkg.reference.Name, pkg.reference.Version)
		case !filepath.IsAbs(pkg.PackageFolder) && l.dir != "":
			pkg.PackageFolder = filepath.Join(l.dir, pkg.PackageFolder)
		}
	}
}

// Resolve looks up the package matching ref. Ranges are resolved to the highest matching version.
func (l *Lockfile) Resolve(ref Reference) (*Package, error) {
	candidates := make([]*Package, 0)
	for _, pkg := range l.Packages {
		if pkg.reference.SameRecipe(ref) {
			candidates = append(candidates, pkg)
		}
	}

	if len(candidates) == 0 {
		return nil, &PackageMissing{Ref: ref.String()}
	}

	if !ref.IsRange() {
		for _, pkg := range candidates {
			if pkg.reference.Version == ref.Version {
				return pkg, nil
			}
		}

		return nil, &PackageMissing{Ref: ref.String(), Reason: "version not in lockfile"}
	}

	constraint, err := ref.Constraint()
	if err != nil {
		return nil, err
	}

	pkg := pickNaiveVersion(candidates, constraint)
	if pkg == nil {
		return nil, &PackageMissing{Ref: ref.String(), Reason: "no matching version found"}
	}
	return pkg, nil
}

// ResolveAll resolves each reference in order and fails on the first missing package
func (l *Lockfile) ResolveAll(refs []Reference) ([]*Package, error) {
	result := make([]*Package, 0, len(refs))
	for _, ref := range refs {
		pkg, err := l.Resolve(ref)
		if err != nil {
			return nil, err
		}
		result = append(result, pkg)
	}
	return result, nil
}

func pickNaiveVersion(candidates []*Package, constraint *semver.Constraints) *Package {
	type candidate struct {
		version *semver.Version
		pkg     *Package
	}

	parsed := make([]candidate, 0, len(candidates))
	for _, pkg := range candidates {
		// versions like openssl's 1.1.1s aren't semver and can only be matched exactly
		ver, err := semver.NewVersion(pkg.reference.Version)
		if err != nil {
			continue
		}
		parsed = append(parsed, candidate{version: ver, pkg: pkg})
	}

	sort.Slice(parsed, func(i, j int) bool {
		return parsed[i].version.LessThan(parsed[j].version)
	})

	for idx := len(parsed) - 1; idx >= 0; idx-- {
		if constraint.Check(parsed[idx].version) {
			return parsed[idx].pkg
		}
	}
	return nil
}

// Dirs resolves the given relative directories against folder
func Dirs(folder string, dirs []string) []string {
	result := make([]string, len(dirs))
	for idx, dir := range dirs {
		if filepath.IsAbs(dir) {
			result[idx] = dir
		} else {
			result[idx] = filepath.Join(folder, dir)
		}
	}
	return result
}

// WithDefaults fills empty directory lists with the package manager's defaults
func (c Component) WithDefaults() Component {
	if c.IncludeDirs == nil {
		c.IncludeDirs = []string{"include"}
	}
	if c.LibDirs == nil {
		c.LibDirs = []string{"lib"}
	}
	if c.BinDirs == nil {
		c.BinDirs = []string{"bin"}
	}
	return c
}
