// Package main is the entry point for the spinta-sync application
package main

import (
	"github.com/atviriduomenys/spinta-sync/cmd"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	cmd.Execute()
}
