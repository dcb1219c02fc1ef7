// Command cloudcrate is the entry point for the CLI binary. It dispatches to
// the server and setup subcommands.
package main

import (
	"fmt"
	"os"

	"cloudcrate/internal/cmd/server"
	"cloudcrate/internal/cmd/setup"
	"cloudcrate/internal/version"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(argv []string) error {
	if len(argv) < 2 {
		usage()
		return fmt.Errorf("missing subcommand")
	}

	switch argv[1] {
	case "setup":
		return setup.Run(argv[2:])
	case "server":
		return server.Run(argv[2:])
	case "version":
		fmt.Printf("cloudcrate %s\n", version.Version)
		return nil
	case "-h", "--help", "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown subcommand: %s", argv[1])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "cloudcrate <setup|server|version> [flags]")
}
