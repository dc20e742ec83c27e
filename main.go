package main

import "github.com/sajjad-MoBe/kvlog/cmd"

func main() {
	cmd.Execute()
}
