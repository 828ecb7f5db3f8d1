package main

import "github.com/BioHazard786/roomlink/cmd"

func main() {
	cmd.Execute()
}
