package main

import (
	"flag"
	"fmt"
	"os"

	"duckrace/server/tools/race_player"
)

func main() {
	path := flag.String("path", "", "Path to a race bundle directory or its manifest.json")
	resultFlag := flag.Bool("result", false, "Emit the reconstructed race result instead of the raw bundle")
	tableFlag := flag.Bool("table", false, "Print the final standings as a table")
	dumpFlag := flag.Bool("dump", false, "Treat path as a gzip admin dump instead of a bundle")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	if *dumpFlag {
		report, err := raceplayer.LoadDump(*path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
		if err := raceplayer.WriteJSON(os.Stdout, report); err != nil {
			fmt.Fprintln(os.Stderr, "encode error:", err)
			os.Exit(3)
		}
		return
	}

	bundle, err := raceplayer.Load(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	//1.- Raw bundles need no summary; reconstructing a result does.
	if !*resultFlag && !*tableFlag {
		if err := raceplayer.WriteJSON(os.Stdout, raceplayer.NewReport(bundle)); err != nil {
			fmt.Fprintln(os.Stderr, "encode error:", err)
			os.Exit(3)
		}
		return
	}
	result, err := bundle.Result()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	if *tableFlag {
		err = raceplayer.WriteStandings(os.Stdout, bundle.Header, result)
	} else {
		err = raceplayer.WriteJSON(os.Stdout, result)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
