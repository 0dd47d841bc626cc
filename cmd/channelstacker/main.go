package main

import "github.com/Skryldev/channel-stacker/internal/cli"

func main() {
	cli.Execute()
}
