package main

import "github.com/Command-Relay/commandrelay/cmd/command-relay/cmd"

func main() {
	cmd.Execute()
}
