// Command zg runs the Zeitgeist processing core from the command line.
//
// Usage:
//
//	zg                      Show help
//	zg run <items.json>     Run one cycle over a raw item dump
//	zg arcs                 List story arcs in the registry
//	zg stats                Registry and baseline statistics
package main

import (
	"fmt"
	"os"
)

const usage = `zg - Zeitgeist signal processing CLI

Usage:
  zg <command> [flags]

Commands:
  run <items.json>   Run one full cycle over a JSON dump of raw items
  arcs               List story arcs (phase, age, links, velocity)
  stats              Registry and divergence baseline statistics

Flags common to all commands:
  -config PATH       Config file (default ~/.zeitgeist/config.json)

Run 'zg <command> -h' for command-specific help.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(0)
	}

	cmd := os.Args[1]
	// Strip the program name + subcommand so flag sets see only their flags
	os.Args = os.Args[1:]

	switch cmd {
	case "run":
		runCycle()
	case "arcs":
		runArcs()
	case "stats":
		runStats()
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "zg: unknown command %q\n\n", cmd)
		fmt.Print(usage)
		os.Exit(1)
	}
}
