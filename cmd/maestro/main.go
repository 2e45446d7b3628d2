package main

import "github.com/ejohane/maestro-sub001/internal/cli"

func main() {
	cli.Execute()
}
