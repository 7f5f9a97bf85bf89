package main

import (
	"os"

	"github.com/vitwit/coffee/cmd/coffee/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
