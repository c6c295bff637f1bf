// Command claimsync is the field-data capture sync tool: it keeps the local
// claim database in sync with the remote system of record, queuing every
// mutation durably while offline and draining the queue when connectivity
// returns.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
