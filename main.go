package main

import "github.com/nextlevelbuilder/betclaw/cmd"

func main() {
	cmd.Execute()
}
