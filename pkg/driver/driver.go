package driver

import (
	"context"

	"github.com/OpenAssetIO/conan-center-index/pkg/buildsys"
)

const (
	StepConfigure = "configure"
	StepBuild     = "build"
	StepTest      = "test"
)

// StepOrder lists the steps in the order they run
var StepOrder = []string{StepConfigure, StepBuild, StepTest}

// Steps executes a single named step
type Steps interface {
	Run(ctx context.Context, name string) error
}

// Driver runs configure, build and test strictly in that order
type Driver struct {
	Steps Steps
	// CanRun is false if the host can't execute the built binaries. The test step is skipped
	// in that case.
	CanRun bool
}

// Run executes all steps. Configure and build errors are returned unchanged.
func (d *Driver) Run(ctx context.Context) error {
	for _, step := range StepOrder {
		err := d.RunStep(ctx, step)
		if err != nil {
			return err
		}
	}

	return nil
}

// RunStep executes a single step
func (d *Driver) RunStep(ctx context.Context, step string) error {
	if step == StepTest && !d.CanRun {
		buildsys.Log(ctx).Info().
			Str("task", step).
			Msg("skipped because the host can't run the built binaries")
		return nil
	}

	buildsys.Log(ctx).Debug().Str("task", step).Msg("starting")
	return d.Steps.Run(ctx, step)
}
