package graph

import "strings"

// Options maps option names to their values as the package manager reports them
type Options map[string]string

// Get returns the raw value for the given option and whether the package declares it
func (o Options) Get(name string) (string, bool) {
	if o == nil {
		return "", false
	}
	value, ok := o[name]
	return value, ok
}

// Bool evaluates the given option as a boolean. present is false if the option isn't declared.
func (o Options) Bool(name string) (value bool, present bool) {
	raw, ok := o.Get(name)
	if !ok {
		return false, false
	}
	return Truthy(raw), true
}

// Truthy evaluates an option value the way the package manager does: "False", "false", "0",
// "None" and empty values are false, everything else is true.
func Truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "false", "0", "none":
		return false
	}
	return true
}
