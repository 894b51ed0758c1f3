package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

var (
	mu           sync.Mutex
	stdout       io.Writer = os.Stdout
	stderr       io.Writer = os.Stderr
	colorEnabled           = DetectColor(os.Stdout)
	quiet        bool
)

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes
// while color output is enabled
func colorize(colorString string) func(string) string {
	return func(text string) string {
		mu.Lock()
		enabled := colorEnabled
		mu.Unlock()
		if !enabled {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

// DetectColor reports whether f is an interactive terminal that should
// receive ANSI colors. NO_COLOR and TERM=dumb disable colors.
func DetectColor(f *os.File) bool {
	if f == nil {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// SetColorEnabled turns ANSI colors on or off
func SetColorEnabled(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	colorEnabled = enabled
}

// SetQuietMode suppresses everything except errors
func SetQuietMode(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	quiet = enabled
}

// SetOutput redirects regular and error output. A nil writer leaves the
// current one in place.
func SetOutput(out, errOut io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if out != nil {
		stdout = out
	}
	if errOut != nil {
		stderr = errOut
	}
}

func writeLine(toErr bool, line string) {
	mu.Lock()
	defer mu.Unlock()
	if toErr {
		fmt.Fprintln(stderr, line)
		return
	}
	if quiet {
		return
	}
	fmt.Fprintln(stdout, line)
}

// PrintBanner prints the program name and version
func PrintBanner(name, version string) {
	writeLine(false, Cyan(name)+" "+Dim(version))
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		writeLine(true, Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		writeLine(true, Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	writeLine(false, Green(msg))
}

// PrintInfo prints an info message in cyan
func PrintInfo(label string, value string) {
	writeLine(false, fmt.Sprintf("%s: %s", Cyan(label), Yellow(value)))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		writeLine(false, Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		writeLine(false, Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	writeLine(false, Magenta(msg))
}

// Println prints a plain line
func Println(msg string) {
	writeLine(false, msg)
}
