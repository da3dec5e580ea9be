package main

import "github.com/ntkit/tlsdissect/cmd"

func main() {
	cmd.Execute()
}
