package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/OpenAssetIO/conan-center-index/pkg/buildsys"
	"github.com/OpenAssetIO/conan-center-index/pkg/config"
	"github.com/OpenAssetIO/conan-center-index/pkg/driver"
	"github.com/OpenAssetIO/conan-center-index/pkg/fetch"
	"github.com/OpenAssetIO/conan-center-index/pkg/graph"
	"github.com/OpenAssetIO/conan-center-index/pkg/profile"
	"github.com/OpenAssetIO/conan-center-index/pkg/recipe"
)

// session bundles the loaded config and the logger for a single command invocation
type session struct {
	ctx context.Context
	cfg *config.Config
}

func newSession(cmd *cobra.Command) (*session, error) {
	flags := cmd.Flags()
	cfgFile, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(cfgFile, func(cfg *config.Config) error {
		overrides := map[string]*string{
			"profile":   &cfg.Profile,
			"lockfile":  &cfg.Lockfile,
			"log-level": &cfg.Log.Level,
		}

		for name, field := range overrides {
			if !flags.Changed(name) {
				continue
			}

			value, err := flags.GetString(name)
			if err != nil {
				return err
			}
			*field = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var logger zerolog.Logger
	if cfg.Log.JSON {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		headingOut = io.Discard
	} else {
		headingOut = os.Stdout
		logger = zerolog.New(NewConsoleWriter())
	}
	logger = logger.Level(cfg.LogLevel())

	return &session{
		ctx: buildsys.WithLogger(context.Background(), &logger),
		cfg: cfg,
	}, nil
}

func (s *session) log() *zerolog.Logger {
	return buildsys.Log(s.ctx)
}

func (s *session) profile() (*profile.Profile, error) {
	if s.cfg.Profile == "" {
		s.log().Debug().Msg("no profile configured, using the detected host settings")
		return profile.Detect(), nil
	}

	return profile.Load(s.cfg.Profile)
}

func (s *session) lockfile() (*graph.Lockfile, error) {
	lock, err := graph.Load(s.cfg.Lockfile)
	if err != nil {
		return nil, err
	}

	cache, err := s.cfg.PackageCache()
	if err != nil {
		return nil, err
	}
	lock.ResolveFolders(cache)

	return lock, nil
}

func (s *session) resolve(reference, dir string) (*recipe.Recipe, *recipe.Resolved, error) {
	if dir == "" {
		dir = "."
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to resolve %s", dir)
	}

	rcp, err := recipe.New(reference, dir)
	if err != nil {
		return nil, nil, err
	}

	lock, err := s.lockfile()
	if err != nil {
		return nil, nil, err
	}

	deps, err := rcp.Resolve(lock)
	if err != nil {
		return nil, nil, err
	}

	for _, req := range deps.Requirements {
		s.log().Debug().Msgf("%s", req)
	}

	return rcp, deps, nil
}

func (s *session) fetch(deps *recipe.Resolved) error {
	cache, err := s.cfg.PackageCache()
	if err != nil {
		return err
	}

	return fetch.New(cache).Fetch(s.ctx, deps.All())
}

// generate resolves and fetches the requirements, writes the generated files and stores the
// build plan in the test package's build folder
func (s *session) generate(dir, reference string, options map[string]string) (*buildsys.Plan, error) {
	prof, err := s.profile()
	if err != nil {
		return nil, err
	}

	PrintTask("Resolving requirements")
	rcp, deps, err := s.resolve(reference, dir)
	if err != nil {
		return nil, err
	}

	PrintTask("Fetching packages")
	err = s.fetch(deps)
	if err != nil {
		return nil, err
	}

	PrintTask("Generating build files")
	layout := rcp.Layout(prof.Settings, s.cfg.CMake.Generator)
	generated, err := recipe.Generate(prof.Settings, layout, deps)
	if err != nil {
		return nil, err
	}

	for _, file := range generated.Files {
		PrintSubtask(file)
	}

	plan, err := driver.Plan(s.ctx, &driver.Config{
		Settings:  prof.Settings,
		Layout:    layout,
		Generated: generated,
		CMake:     s.cfg.CMake.Program,
		Jobs:      s.cfg.Jobs(),
		ToolDirs:  deps.ToolDirs(),
		Options:   options,
		CanRun:    prof.CanRun(profile.Detect().Settings),
	})
	if err != nil {
		return nil, err
	}

	err = buildsys.WriteCache(driver.PlanFile(rcp.Dir), plan)
	if err != nil {
		return nil, err
	}

	return plan, nil
}

// splitOptions separates key=value script options from plain arguments
func splitOptions(args []string) ([]string, map[string]string) {
	plain := make([]string, 0, len(args))
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			plain = append(plain, part)
		}
	}

	return plain, options
}
