// Package main is the entry point for the vectormill application
package main

import (
	"github.com/vectormill/vectormill/cmd"
)

func main() {
	cmd.Execute()
}
