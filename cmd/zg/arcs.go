package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/abelbrown/zeitgeist/internal/arc"
	"github.com/abelbrown/zeitgeist/internal/logging"
)

func runArcs() {
	fs := flag.NewFlagSet("arcs", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	all := fs.Bool("all", false, "Include dormant stories")
	limit := fs.Int("n", 20, "Max stories to list")
	fs.Parse(os.Args[1:])

	logging.InitWriter(os.Stderr)
	cfg := loadConfig(*configPath)

	reg := openRegistry(cfg)
	defer reg.Close()

	stories := reg.All()
	shown := 0
	for _, st := range stories {
		dormant := st.Dormant(cfg.Arc.DormantAfterCycles)
		if dormant && !*all {
			continue
		}
		if shown >= *limit {
			break
		}
		shown++

		status := string(st.Phase)
		if dormant {
			status = "DORMANT"
		}
		fmt.Printf("%-10s %-36s %s\n", status, st.ID, st.CanonicalTitle)
		fmt.Printf("           age %s, %d links, last seen %s",
			formatAge(st.Age(time.Now())), len(st.Links),
			st.LastSeen.Local().Format("Jan 2 15:04"))
		if v := currentVelocity(st); v > 0 {
			fmt.Printf(", velocity %.2f (peak %.2f)", v, st.PeakVelocity)
		}
		fmt.Println()
	}

	if shown == 0 {
		fmt.Println("No active stories.")
	}
}

func currentVelocity(st *arc.Story) float64 {
	if len(st.Velocity) == 0 {
		return 0
	}
	return st.Velocity[len(st.Velocity)-1]
}

func formatAge(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	return fmt.Sprintf("%.1fd", d.Hours()/24)
}
