package main

import "github.com/LENAX/relay-agent/pkg/cli/cmd"

func main() {
	cmd.Execute()
}
