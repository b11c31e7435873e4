package buildsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

// DefaultEntry is the function a step script uses to declare its tasks
const DefaultEntry = "steps"

type parserCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	filepath     string
	projectRoot  string
	tasks        []*Task
	initPhase    bool
}

// ScriptConfig describes which script to run and what it can see
type ScriptConfig struct {
	// Filename is used to resolve relative paths and in error messages
	Filename string
	// Source is the script content. If it's nil, Filename is read instead.
	Source      []byte
	ProjectRoot string
	// Options are the values for the script's option() calls
	Options map[string]string
	// Globals are predeclared in addition to the builtins
	Globals map[string]interface{}
	// Entry is the function called to declare tasks. Defaults to DefaultEntry.
	Entry string
}

// Script is the result of a script run
type Script struct {
	Tasks   TaskList
	Options map[string]ScriptOption
	// OptionValues contains the effective value for each declared option
	OptionValues map[string]string
}

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	Log(ctx.ctx).Info().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	Log(ctx.ctx).Warn().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

// isAssignment returns true for NAME=value strings
func isAssignment(value string) bool {
	pos := strings.Index(value, "=")
	if pos < 1 {
		return false
	}

	for idx, c := range value[:pos] {
		switch {
		case c == '_', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		case idx > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// processCmdParts turns a list of arguments into a shell call. Leading NAME=value entries
// become variable assignments for the call.
func processCmdParts(parts starlark.Tuple, parser *syntax.Parser, base string) (*syntax.CallExpr, error) {
	envVars := make([]string, 0, len(parts))
	for _, part := range parts {
		value, ok := part.(starlark.String)
		if !ok || !isAssignment(value.GoString()) {
			break
		}
		envVars = append(envVars, value.GoString())
	}

	cmd := new(syntax.CallExpr)
	if len(envVars) > 0 {
		joined := strings.Join(envVars, " ")
		result, err := parser.Parse(strings.NewReader(joined), "env vars")
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse command vars %s", joined)
		}

		if len(result.Stmts) != 1 || result.Stmts[0].Cmd == nil {
			return nil, eris.Errorf("malformed env vars %s", joined)
		}

		var ok bool
		cmd, ok = result.Stmts[0].Cmd.(*syntax.CallExpr)
		if !ok || cmd.Assigns == nil {
			return nil, eris.Errorf("malformed env vars %s", joined)
		}
	}

	args := parts[len(envVars):]
	if len(args) == 0 {
		return nil, eris.New("command is empty")
	}

	cmd.Args = make([]*syntax.Word, len(args))
	for a, arg := range args {
		var encoded string

		switch value := arg.(type) {
		case starlark.String:
			encoded = value.GoString()
		case starlark.Int:
			encoded = value.String()
		case StarlarkPath:
			encoded = string(value)

			if filepath.IsAbs(encoded) && base != "" {
				// keeps drive letters out of the command line
				if rel, err := filepath.Rel(base, encoded); err == nil {
					encoded = rel
				}
			}

			encoded = filepath.ToSlash(encoded)
		default:
			return nil, eris.Errorf("found argument of type %s but only strings, ints and paths are supported: %s", arg.Type(), arg.String())
		}

		var wordPart syntax.WordPart
		if encoded == "" || strings.ContainsAny(encoded, " \t$'\"\\;&|<>()[]{}*?!#~`") {
			wordPart = &syntax.SglQuoted{Value: strings.ReplaceAll(encoded, "'", `'"'"'`)}
		} else {
			wordPart = &syntax.Lit{Value: encoded}
		}

		cmd.Args[a] = &syntax.Word{Parts: []syntax.WordPart{wordPart}}
	}

	return cmd, nil
}

// * Builtin functions

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("can only be called during the init phase (in the global scope)")
	}

	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	if value, ok := ctx.optionValues[name]; ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func printCmd(printer *syntax.Printer, node syntax.Node) (string, error) {
	buf := strings.Builder{}
	err := printer.Print(&buf, node)
	return buf.String(), err
}

func task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps, inputs, outputs, cmds *starlark.List
	var env *starlark.Dict

	ctx := getCtx(thread)
	task := new(Task)

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "short??", &task.Short, "hidden?", &task.Hidden,
		"desc?", &task.Desc, "deps?", &deps, "base?", &task.Base, "inputs?", &inputs,
		"outputs?", &outputs, "env?", &env, "cmds?", &cmds)
	if err != nil {
		return nil, err
	}

	if ctx.initPhase {
		return nil, eris.Errorf("tasks have to be declared inside %s()", DefaultEntry)
	}

	if task.Short == "" {
		task.Hidden = true
		task.Short = "auto#" + nanoid.New()
	}

	task.Env = map[string]string{}
	if task.Base == "" {
		task.Base = "."
	}
	task.Base = normalizePath(ctx, task.Base)

	task.Deps, err = starlarkStrings(deps, "deps")
	if err != nil {
		return nil, err
	}

	task.Inputs, err = starlarkStrings(inputs, "inputs")
	if err != nil {
		return nil, err
	}

	task.Outputs, err = starlarkStrings(outputs, "outputs")
	if err != nil {
		return nil, err
	}

	if env != nil {
		for _, item := range env.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, eris.Errorf("found key type %s in env map but only strings are supported", item[0].Type())
			}

			switch value := item[1].(type) {
			case starlark.String:
				task.Env[key.GoString()] = value.GoString()
			case StarlarkPath:
				task.Env[key.GoString()] = string(value)
			default:
				return nil, eris.Errorf("found value of type %s for key %s but only strings are supported", item[1].Type(), key)
			}
		}
	}

	printer := syntax.NewPrinter(syntax.Minify(true))
	parser := syntax.NewParser()
	task.Cmds = make([]TaskCmd, 0)

	if cmds != nil {
		for idx := 0; idx < cmds.Len(); idx++ {
			var parts starlark.Tuple

			switch value := cmds.Index(idx).(type) {
			case starlark.String:
				task.Cmds = append(task.Cmds, TaskCmdScript{TaskName: task.Short, Index: idx, Content: value.GoString()})
				continue
			case *Task:
				task.Cmds = append(task.Cmds, TaskCmdTaskRef{Task: value})
				continue
			case starlark.Tuple:
				parts = value
			case *starlark.List:
				parts = make(starlark.Tuple, value.Len())
				for p := range parts {
					parts[p] = value.Index(p)
				}
			default:
				return nil, eris.Errorf("%s: unexpected type %s. Only strings, tuples, lists and tasks are valid", fn.Name(), value.Type())
			}

			cmd, err := processCmdParts(parts, parser, task.Base)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}

			content, err := printCmd(printer, cmd)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}

			task.Cmds = append(task.Cmds, TaskCmdScript{TaskName: task.Short, Index: idx, Content: content})
		}
	}

	if len(task.Inputs) > 0 && len(task.Outputs) == 0 {
		warn(thread, "%s: found inputs but no outputs", fn.Name())
	}

	if !task.Hidden {
		ctx.tasks = append(ctx.tasks, task)
	}
	return task, nil
}

func evalError(err error, msg string) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return eris.Errorf("%s:\n%s", msg, evalErr.Backtrace())
	}
	return eris.Wrap(err, msg)
}

// RunScript executes a step script, calls its entry function and returns the declared tasks
func RunScript(ctx context.Context, cfg ScriptConfig) (*Script, error) {
	projectRoot, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", cfg.ProjectRoot)
	}

	filename, err := filepath.Abs(cfg.Filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", cfg.Filename)
	}

	source := cfg.Source
	if source == nil {
		source, err = os.ReadFile(filename)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read %s", filename)
		}
	}

	entry := cfg.Entry
	if entry == "" {
		entry = DefaultEntry
	}

	optionValues := cfg.Options
	if optionValues == nil {
		optionValues = map[string]string{}
	}

	predeclared := starlark.StringDict{
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
		"resolve_path": starlark.NewBuiltin("resolve_path", resolvePath),
		"option":       starlark.NewBuiltin("option", option),
		"getenv":       starlark.NewBuiltin("getenv", getenv),
		"setenv":       starlark.NewBuiltin("setenv", setenv),
		"prepend_path": starlark.NewBuiltin("prepend_path", prependPathDir),
		"read_yaml":    starlark.NewBuiltin("read_yaml", readYaml),
		"isdir":        starlark.NewBuiltin("isdir", starIsdir),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"execute":      starlark.NewBuiltin("execute", starExec),
		"task":         starlark.NewBuiltin("task", task),
		"load_vcvars":  starlark.NewBuiltin("load_vcvars", starLoadVcvars),
	}

	for name, value := range cfg.Globals {
		converted, err := toStarlark(value)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to convert global %s", name)
		}
		predeclared[name] = converted
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			Log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	threadCtx := parserCtx{
		ctx:          ctx,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		optionValues: optionValues,
		envOverrides: make(map[string]string),
		tasks:        make([]*Task, 0),
		yamlCache:    make(map[string]interface{}),
		initPhase:    true,
	}
	thread.SetLocal("parserCtx", &threadCtx)

	shortName := simplifyPath(&threadCtx, filename)
	globals, err := starlark.ExecFile(thread, shortName, source, predeclared)
	if err != nil {
		return nil, evalError(err, "failed to execute "+shortName)
	}

	entryValue, ok := globals[entry]
	if !ok {
		return nil, eris.Errorf("%s did not declare a %s function", shortName, entry)
	}

	entryFunc, ok := entryValue.(starlark.Callable)
	if !ok {
		return nil, eris.Errorf("%s did declare %s but it's not a function", shortName, entry)
	}

	threadCtx.initPhase = false
	_, err = starlark.Call(thread, entryFunc, starlark.Tuple{}, nil)
	if err != nil {
		return nil, evalError(err, fmt.Sprintf("failed %s call in %s", entry, shortName))
	}

	result := &Script{
		Tasks:        TaskList{},
		Options:      threadCtx.options,
		OptionValues: make(map[string]string, len(threadCtx.options)),
	}

	for name, opt := range threadCtx.options {
		if value, ok := optionValues[name]; ok {
			result.OptionValues[name] = value
		} else {
			result.OptionValues[name] = opt.Default()
		}
	}

	for _, task := range threadCtx.tasks {
		if _, dup := result.Tasks[task.Short]; dup {
			return nil, eris.Errorf("%s declared the task %s twice", shortName, task.Short)
		}
		result.Tasks[task.Short] = task

		for name, value := range threadCtx.envOverrides {
			if _, present := task.Env[name]; !present {
				task.Env[name] = value
			}
		}
	}

	return result, nil
}
