package main

import (
	"os"

	"github.com/eachlabs/threadbot/cmd/threadbot/commands"
)

var version = "dev"

func main() {
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
