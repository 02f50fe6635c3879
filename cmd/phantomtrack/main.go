package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	// Environment files are loaded before parsing so they can feed flag
	// defaults. Variables already set in the environment win.
	envFiles := []string{".env", "phantomtrack.env"}
	if home, err := os.UserHomeDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(home, ".config", "phantomtrack.env"))
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				fmt.Fprintf(os.Stderr, "load %s: %v\n", f, err)
			}
		}
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("phantomtrack"),
		kong.Description("Generate new music from reference clips and a text prompt.\n\nVersion: ${version}"),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintln(os.Stderr, "phantomtrack:", err)
		os.Exit(1)
	}
}
