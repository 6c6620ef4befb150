package main

import (
	"os"

	"github.com/brensch/harvest/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
