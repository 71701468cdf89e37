package main

import (
	"os"

	"github.com/riptide-org/riptide/cmd/riptide/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
