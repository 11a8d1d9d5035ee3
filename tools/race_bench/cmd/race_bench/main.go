package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"duckrace/server/tools/race_bench"
	"duckrace/server/tools/race_player"
)

func main() {
	var opts racebench.Options
	flag.IntVar(&opts.Ducks, "ducks", 8, "number of generated ducks when no roster file is given")
	flag.StringVar(&opts.RosterPath, "roster", "", "JSON array of participants")
	flag.StringVar(&opts.Mode, "mode", "casual", "race mode to evaluate")
	flag.StringVar(&opts.TuningPath, "tuning", "", "tuning file overriding the built-in modes")
	flag.IntVar(&opts.Runs, "runs", 1000, "number of races to simulate")
	flag.IntVar(&opts.Workers, "workers", 0, "parallel simulations; 0 uses GOMAXPROCS")
	flag.Int64Var(&opts.Seed, "seed", 1, "seed of the first run; run i uses seed+i")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of a table")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	eval, err := racebench.Run(ctx, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if *jsonFlag {
		err = raceplayer.WriteJSON(os.Stdout, eval)
	} else {
		err = racebench.WriteReport(os.Stdout, opts.Mode, eval)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(2)
	}
}
