package main

import (
	"os"

	"github.com/KOMKZ/habitcache/cli"
)

func main() {
	os.Exit(cli.Execute())
}
