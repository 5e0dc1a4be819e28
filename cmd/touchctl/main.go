// Command touchctl administers a touchline data directory: level sheets,
// pattern evolution, the paper portfolio and backups.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
