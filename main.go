package main

import "github.com/skypass/skypass/cmd"

func main() {
	cmd.Execute()
}
