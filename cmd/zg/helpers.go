package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/abelbrown/zeitgeist/internal/arc"
	"github.com/abelbrown/zeitgeist/internal/config"
	"github.com/abelbrown/zeitgeist/internal/logging"
)

// loadConfig reads the config file, falling back to defaults.
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// openRegistry opens the registry or fatals. Corruption gets an explicit
// message rather than a silent empty start.
func openRegistry(cfg *config.Config) *arc.Registry {
	reg, err := arc.OpenRegistry(cfg.Arc)
	if err != nil {
		if errors.Is(err, arc.ErrCorrupt) {
			fmt.Fprintf(os.Stderr, "zg: registry at %s is corrupt: %v\n", cfg.Arc.DBPath, err)
			fmt.Fprintln(os.Stderr, "zg: refusing to start with an empty registry; move the file aside to reinitialize")
			os.Exit(1)
		}
		log.Fatalf("failed to open registry: %v", err)
	}
	return reg
}

func initLogging() {
	if err := logging.Init(); err != nil {
		logging.InitWriter(os.Stderr)
	}
}
