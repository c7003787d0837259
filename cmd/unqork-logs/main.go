// Package main is the entry point for the unqork-logs CLI binary.
package main

import (
	"os"

	_ "github.com/mattn/go-sqlite3"

	cli "unqork-logs/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
