package main

import "github.com/kozaktomas/grad-gate/cmd"

func main() {
	cmd.Execute()
}
