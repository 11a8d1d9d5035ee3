package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"duckrace/server/tools/race_schema"
)

func main() {
	name := flag.String("schema", "result", "schema to emit: "+strings.Join(raceschema.Names(), ", "))
	outPath := flag.String("out", "", "path to write the JSON schema; stdout when empty")
	flag.Parse()

	schema, err := raceschema.Build(*name)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *outPath != "" {
		if err := raceschema.Write(*outPath, schema); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
			os.Exit(1)
		}
		return
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
