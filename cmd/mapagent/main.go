package main

import "github.com/mukut03/agents/app/cmd"

func main() {
	cmd.Execute()
}
