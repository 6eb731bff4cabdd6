// Command loclens is a local hybrid search engine for personal files.
package main

import (
	"fmt"
	"os"

	"github.com/loclens/loclens/cmd/loclens/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
