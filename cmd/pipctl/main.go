// pipctl is the operator CLI for pipscreen: schema migrations, offline
// upload validation, ad hoc similarity scoring, token index rebuilds and audit tails.
package main

import (
	"os"

	"pipscreen/cmd/pipctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
