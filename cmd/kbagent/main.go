package main

import "kbagent/internal/cli"

func main() {
	cli.Execute()
}
