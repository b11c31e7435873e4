package cmd

import (
	"io"
	"os"

	"github.com/mitchellh/colorstring"
)

// headingOut receives the progress headings. JSON logging silences them.
var headingOut io.Writer = os.Stdout

func PrintTask(msg string) {
	colorstring.Fprintf(headingOut, "[blue][bold]==>[default] %s\n", msg)
}

func PrintSubtask(msg string) {
	colorstring.Fprintf(headingOut, "[green][bold]  ->[reset] %s\n", msg)
}

func PrintError(msg string) {
	colorstring.Fprintf(headingOut, "[red][bold]  ->[reset] %s\n", msg)
}
