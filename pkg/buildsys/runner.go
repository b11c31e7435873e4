package buildsys

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// HelperCommands are redirected to the tool's own cross-platform implementations
var HelperCommands = []string{"mv", "rm", "mkdir"}

// SelfExecutable is the binary handling HelperCommands
var SelfExecutable = "testpkg"

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		for _, name := range HelperCommands {
			if args[0] == name {
				args = append([]string{SelfExecutable}, args...)
				break
			}
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func shellReadDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	result := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		result = append(result, info)
	}
	return result, nil
}

// Runner executes tasks from a TaskList. Each task runs at most once per Runner.
type Runner struct {
	Tasks       TaskList
	ProjectRoot string
	// DryRun only logs the commands
	DryRun bool
	// Force ignores the input / output timestamps
	Force  bool
	Stdout io.Writer
	Stderr io.Writer

	runTasks map[string]bool
}

// NewRunner returns a runner writing command output to the process' stdout and stderr
func NewRunner(tasks TaskList, projectRoot string) *Runner {
	return &Runner{
		Tasks:       tasks,
		ProjectRoot: projectRoot,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// Run executes the named task and its dependencies
func (r *Runner) Run(ctx context.Context, name string) error {
	if r.runTasks == nil {
		r.runTasks = make(map[string]bool)
	}

	task, found := r.Tasks[name]
	if !found {
		return eris.Errorf("task %s not found", name)
	}

	return r.runTask(ctx, task, r.Force)
}

func (r *Runner) resolvePatterns(base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	pctx := &parserCtx{
		filepath:    filepath.Join(base, "invalid"),
		projectRoot: r.ProjectRoot,
	}

	for _, item := range patterns {
		item = filepath.ToSlash(normalizePath(pctx, item))

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse pattern %s", item)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// patterns without matches are returned as-is
			if !strings.Contains(match, "*") {
				result = append(result, match)
			}
		}
	}
	return result, nil
}

// upToDate returns true if all outputs exist and are newer than the newest input
func (r *Runner) upToDate(ctx context.Context, task *Task) (bool, error) {
	if len(task.Inputs) == 0 || len(task.Outputs) == 0 {
		return false, nil
	}

	inputs, err := r.resolvePatterns(task.Base, task.Inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	outputs, err := r.resolvePatterns(task.Base, task.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve outputs")
	}

	var newestInput time.Time
	for _, item := range inputs {
		info, err := os.Stat(item)
		if err != nil {
			return false, eris.Wrapf(err, "failed to check input %s", item)
		}

		if info.ModTime().After(newestInput) {
			newestInput = info.ModTime()
		}
	}

	if len(outputs) == 0 {
		return false, nil
	}

	oldestOutput := time.Now()
	for _, item := range outputs {
		info, err := os.Stat(item)
		if eris.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, eris.Wrapf(err, "failed to check output %s", item)
		}

		if info.ModTime().Before(oldestOutput) {
			oldestOutput = info.ModTime()
		}
	}

	if oldestOutput.After(newestInput) {
		Log(ctx).Info().
			Str("task", task.Short).
			Msgf("nothing to do (output is %.1f seconds newer)", oldestOutput.Sub(newestInput).Seconds())
		return true, nil
	}
	return false, nil
}

func (r *Runner) taskEnv(task *Task) expand.Environ {
	return expand.ListEnviron(mergeEnv(task.Env)...)
}

func (r *Runner) runTask(ctx context.Context, task *Task, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done, ok := r.runTasks[task.Short]
	if ok {
		if done {
			Log(ctx).Debug().Msgf("Task %s already run", task.Short)
			return nil
		}

		return eris.Errorf("task %s was called recursively", task.Short)
	}

	r.runTasks[task.Short] = false

	for _, dep := range task.Deps {
		depTask, ok := r.Tasks[dep]
		if !ok {
			return eris.Errorf("task %s not found", dep)
		}

		err := r.runTask(ctx, depTask, false)
		if err != nil {
			return eris.Wrapf(err, "task %s failed due to its dependency %s", task.Short, dep)
		}
	}

	if !force {
		skip, err := r.upToDate(ctx, task)
		if err != nil {
			return err
		}

		if skip {
			r.runTasks[task.Short] = true
			return nil
		}
	}

	runner, err := interp.New(
		interp.Dir(task.Base),
		interp.Env(r.taskEnv(task)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, r.Stdout, r.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize runner")
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))

	for _, item := range task.Cmds {
		if subTask := item.ToTask(); subTask != nil {
			err = r.runTask(ctx, subTask, force)
			if err != nil {
				return err
			}
			continue
		}

		stmts, err := item.ToShellStmts(parser)
		if err != nil {
			return eris.Wrap(err, "failed to parse shell script")
		}

		for _, stmt := range stmts {
			line, _ := printCmd(printer, stmt)
			Log(ctx).Info().
				Str("task", task.Short).
				Bool("command", true).
				Msg(line)

			if r.DryRun {
				continue
			}

			err = runner.Run(ctx, stmt)
			if err != nil {
				return err
			}

			if runner.Exited() {
				r.runTasks[task.Short] = true
				return nil
			}
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	r.runTasks[task.Short] = true
	return nil
}
