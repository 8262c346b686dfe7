package main

import "github.com/goosewin/cappair/cmd"

func main() {
	cmd.Execute()
}
