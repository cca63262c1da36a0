package main

import "github.com/nextlevelbuilder/astra/cmd"

func main() {
	cmd.Execute()
}
