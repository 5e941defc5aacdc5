// Command execute runs an ARCOR2 execution package: it builds the object
// graph of a scene, runs the project actions and writes telemetry events
// to stdout, one JSON record per line.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

func main() {
	// Minimal logger until the run command configures the real one.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := NewRootCommand().Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Error())
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitFailure)
	}
}
