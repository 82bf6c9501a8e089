// Package main provides the entry point for the eventmap CLI tool.
package main

import "eventmap/cmd/eventmap/cmd"

func main() {
	cmd.Execute()
}
