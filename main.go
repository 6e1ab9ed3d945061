package main

import "github.com/Sanstheink/Inv-bot/cmd"

func main() {
	cmd.Execute()
}
