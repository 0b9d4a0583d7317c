package main

import "github.com/agentic-research/assembler/cmd"

func main() {
	cmd.Execute()
}
