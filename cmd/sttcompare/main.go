package main

import (
	"errors"
	"fmt"
	"os"
)

var version = "0.1.0-dev"

// errUnitsFailed marks a run that completed with at least one failed unit.
var errUnitsFailed = errors.New("one or more units failed")

func main() {
	os.Exit(exitCode(newRootCmd(&app{}).Execute()))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUnitsFailed):
		return 2
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
}
