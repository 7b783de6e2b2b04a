// Package main is the entry point for the goldfish backup CLI.
// It initializes all subcommands and executes the root command.
package main

import (
	"github.com/PavelTrutman/goldfish/cmd"
	_ "github.com/PavelTrutman/goldfish/cmd/list"
	_ "github.com/PavelTrutman/goldfish/cmd/run"
)

// main is the entry point of the application.
// It executes the root command which handles all CLI interactions.
func main() {
	cmd.Execute()
}
