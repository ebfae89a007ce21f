package main

import "github.com/marcus/switchboard/cmd/switchboard/commands"

func main() {
	commands.Execute()
}
