package main

import "tracksync/cmd"

func main() {
	cmd.Execute()
}
