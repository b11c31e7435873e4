package toolchain

import (
	"path"
	"strings"
)

// Posix converts a path to forward-slash form. CMake treats backslashes as escape characters
// so every path written into a generated file has to pass through here.
func Posix(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// PosixList converts all paths in the list
func PosixList(paths []string) []string {
	result := make([]string, len(paths))
	for idx, p := range paths {
		result[idx] = Posix(p)
	}
	return result
}

// WithSuffix replaces the extension of the last path element with suffix or appends it if
// there is no extension. A leading or trailing dot doesn't start an extension.
func WithSuffix(p, suffix string) string {
	p = Posix(p)
	name := path.Base(p)
	pos := strings.LastIndex(name, ".")
	if pos <= 0 || pos == len(name)-1 {
		return p + suffix
	}
	return p[:len(p)-(len(name)-pos)] + suffix
}

func cmakeQuote(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return "\"" + value + "\""
}

func cmakeList(values []string) string {
	return cmakeQuote(strings.Join(values, ";"))
}

func uniqueAppend(list []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range list {
			if existing == item {
				found = true
				break
			}
		}

		if !found {
			list = append(list, item)
		}
	}
	return list
}
