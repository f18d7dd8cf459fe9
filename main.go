package main

import "github.com/sutrapulse/aa-engine/cmd"

func main() {
	cmd.Execute()
}
