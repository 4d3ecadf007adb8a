package main

import "github.com/mpapenbr/simcoach/cmd"

func main() {
	cmd.Execute()
}
