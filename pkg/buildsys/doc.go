// Package buildsys runs the build steps of a test package. Steps are declared by a Starlark
// script and their commands are executed by the mvdan.cc/sh interpreter so the same script
// works on every platform.
package buildsys
