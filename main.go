package main

import "github.com/anagora/agora-bridge/cmd"

func main() {
	cmd.Execute()
}
