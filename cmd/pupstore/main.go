// Command pupstore administers a commit store and relays its commits.
//
// Usage:
//
//	pupstore migrate --dialect postgres --output migrations
//	pupstore init --driver sqlite --dsn ./commits.db
//	pupstore tail --driver sqlite --dsn ./commits.db --bucket default
//	pupstore relay --to kafka --config pupstore.yaml
//
// Settings come from --config, PUPSTORE_* environment variables and flags,
// in increasing order of precedence.
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
