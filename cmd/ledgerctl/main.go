package main

import "scholarpass/internal/cli"

func main() {
	cli.Execute()
}
