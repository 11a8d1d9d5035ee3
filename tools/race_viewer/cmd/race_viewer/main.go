package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/gdamore/tcell/v2"

	"duckrace/server/tools/race_viewer"
)

func main() {
	path := flag.String("path", "", "Race bundle directory, outcome JSON or result JSON")
	speed := flag.Float64("speed", 1, "Playback speed multiplier")
	hz := flag.Float64("hz", 30, "Redraw rate in frames per second")
	hold := flag.Bool("hold", true, "Keep the final frame until a key is pressed")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}
	r, err := raceviewer.Load(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintln(os.Stderr, "screen:", err)
		os.Exit(3)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "screen:", err)
		os.Exit(3)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err = raceviewer.NewViewer(screen, r, *speed, *hz).Run(ctx, *hold)
	stop()
	screen.Fini()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(4)
	}
}
