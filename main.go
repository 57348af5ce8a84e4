package main

import "zmfs/cmd"

func main() {
	cmd.Execute()
}
