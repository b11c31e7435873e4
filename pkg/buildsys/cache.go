package buildsys

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

func init() {
	gob.Register(TaskCmdScript{})
	gob.Register(TaskCmdTaskRef{})
}

// Plan is everything the build phase needs from the generate phase
type Plan struct {
	// Options holds the step script's option values
	Options map[string]string
	Tasks   TaskList
	// CanRun is false if the host can't execute the built binaries
	CanRun bool
}

// WriteCache stores the plan in file
func WriteCache(file string, plan *Plan) error {
	err := os.MkdirAll(filepath.Dir(file), 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(file))
	}

	handle, err := os.Create(file)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", file)
	}
	defer handle.Close()

	encoder := gob.NewEncoder(handle)
	err = encoder.Encode(plan.Options)
	if err != nil {
		return eris.Wrap(err, "failed to encode options")
	}

	err = encoder.Encode(plan.CanRun)
	if err != nil {
		return eris.Wrap(err, "failed to encode can_run")
	}

	err = encoder.Encode(plan.Tasks)
	if err != nil {
		return eris.Wrap(err, "failed to encode tasks")
	}

	return nil
}

// ReadCache loads a plan written by WriteCache
func ReadCache(file string) (*Plan, error) {
	handle, err := os.Open(file)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s", file)
	}
	defer handle.Close()

	decoder := gob.NewDecoder(handle)
	plan := new(Plan)

	err = decoder.Decode(&plan.Options)
	if err != nil {
		return nil, eris.Wrap(err, "failed to decode options")
	}

	err = decoder.Decode(&plan.CanRun)
	if err != nil {
		return nil, eris.Wrap(err, "failed to decode can_run")
	}

	err = decoder.Decode(&plan.Tasks)
	if err != nil {
		return nil, eris.Wrap(err, "failed to decode tasks")
	}

	return plan, nil
}
