package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/OpenAssetIO/conan-center-index/pkg/buildsys"
	"github.com/OpenAssetIO/conan-center-index/pkg/driver"
)

var fetchDepsCmd = &cobra.Command{
	Use:   "fetch-deps <reference>",
	Short: "Resolve the requirements and download missing packages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}

		_, deps, err := s.resolve(args[0], "")
		if err != nil {
			return err
		}

		PrintTask("Fetching packages")
		err = s.fetch(deps)
		if err != nil {
			return err
		}

		for _, pkg := range deps.All() {
			PrintSubtask(fmt.Sprintf("%s: %s", pkg.Ref, pkg.PackageFolder))
		}
		return nil
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <test-package-dir> <reference> [option=value...]",
	Short: "Generate the CMake toolchain and the build plan for the test package",
	Long: `Resolves and fetches the requirements, writes the toolchain, the dependency descriptors and
the run environment into the generators folder and stores the build plan. Additional
option=value arguments are passed to the step script's option() calls.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}

		extra, options := splitOptions(args[2:])
		if len(extra) > 0 {
			return eris.Errorf("unexpected arguments %v, options must look like name=value", extra)
		}

		_, err = s.generate(args[0], args[1], options)
		return err
	},
}

func listSteps(cmd *cobra.Command, plan *buildsys.Plan) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Available steps:")
	for _, step := range driver.StepOrder {
		task := plan.Tasks[step]
		note := ""
		if step == driver.StepTest && !plan.CanRun {
			note = " (skipped, the host can't run the built binaries)"
		}
		fmt.Fprintf(out, " * %-12s %s%s\n", step+":", task.Desc, note)
	}
}

func buildFlags(cmd *cobra.Command) (dryRun, force bool, err error) {
	dryRun, err = cmd.Flags().GetBool("dry")
	if err != nil {
		return
	}

	force, err = cmd.Flags().GetBool("force")
	return
}

var buildCmd = &cobra.Command{
	Use:   "build <test-package-dir> [step...]",
	Short: "Run the configure, build and test steps of a generated test package",
	Long: `Reads the build plan written by "generate" and executes the passed steps. Without any
step the available steps are listed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}

		dryRun, force, err := buildFlags(cmd)
		if err != nil {
			return err
		}

		dir, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		plan, err := buildsys.ReadCache(driver.PlanFile(dir))
		if err != nil {
			return err
		}

		steps := args[1:]
		if len(steps) == 0 {
			listSteps(cmd, plan)
			return nil
		}

		return driver.Build(s.ctx, plan, dir, dryRun, force, steps...)
	},
}

var testCmd = &cobra.Command{
	Use:   "test <test-package-dir> <reference> [option=value...]",
	Short: "Generate and then build and run the test package",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}

		dryRun, force, err := buildFlags(cmd)
		if err != nil {
			return err
		}

		extra, options := splitOptions(args[2:])
		if len(extra) > 0 {
			return eris.Errorf("unexpected arguments %v, options must look like name=value", extra)
		}

		plan, err := s.generate(args[0], args[1], options)
		if err != nil {
			return err
		}

		dir, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		PrintTask("Building test package")
		err = driver.Build(s.ctx, plan, dir, dryRun, force)
		if err != nil {
			PrintError(err.Error())
			return err
		}

		PrintTask("Done")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{buildCmd, testCmd} {
		cmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
		cmd.Flags().BoolP("force", "f", false, "force build; always execute the passed steps even if they don't have to run")
	}

	rootCmd.AddCommand(fetchDepsCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(testCmd)
}
