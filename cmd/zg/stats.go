package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/abelbrown/zeitgeist/internal/arc"
	"github.com/abelbrown/zeitgeist/internal/logging"
)

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	fs.Parse(os.Args[1:])

	logging.InitWriter(os.Stderr)
	cfg := loadConfig(*configPath)

	reg := openRegistry(cfg)
	defer reg.Close()

	stories := reg.All()
	phases := map[arc.Phase]int{}
	dormant := 0
	totalLinks := 0
	for _, st := range stories {
		totalLinks += len(st.Links)
		if st.Dormant(cfg.Arc.DormantAfterCycles) {
			dormant++
			continue
		}
		phases[st.Phase]++
	}

	fmt.Printf("Stories:               %d\n", len(stories))
	fmt.Printf("  EMERGING:            %d\n", phases[arc.PhaseEmerging])
	fmt.Printf("  DEVELOPING:          %d\n", phases[arc.PhaseDeveloping])
	fmt.Printf("  PEAK:                %d\n", phases[arc.PhasePeak])
	fmt.Printf("  FADING:              %d\n", phases[arc.PhaseFading])
	fmt.Printf("  dormant:             %d\n", dormant)
	fmt.Printf("Total cluster links:   %d\n", totalLinks)

	expected, observations, ok, err := reg.Store().LoadBaseline()
	fmt.Println()
	if err != nil || !ok {
		fmt.Printf("Divergence baseline:   seed (%.2f), no observations yet\n",
			cfg.Divergence.BaselineSeed)
		return
	}
	fmt.Printf("Divergence baseline:   %.2f over %d cluster observations\n",
		expected, observations)
}
