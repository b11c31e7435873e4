package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenAssetIO/conan-center-index/pkg/graph"
	"github.com/OpenAssetIO/conan-center-index/pkg/recipe"
)

var requirementsCmd = &cobra.Command{
	Use:   "requirements <reference>",
	Short: "Print the requirements the test package declares for a tested reference",
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

		out := cmd.OutOrStdout()
		host, tools := 0, 0
		for _, req := range deps.Requirements {
			var pkg *graph.Package
			if req.Kind == recipe.ToolRequires {
				pkg = deps.ToolRequires[tools]
				tools++
			} else {
				pkg = deps.Requires[host]
				host++
			}

			fmt.Fprintf(out, "%-32s -> %s\n", req, pkg.Ref)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(requirementsCmd)
}
