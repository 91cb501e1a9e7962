package main

import "github.com/arkilian/sessionfunnel/cmd/commands"

func main() {
	commands.Execute()
}
