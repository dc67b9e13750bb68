package main

import "github.com/jmcleod/ironlink/cmd/ironlink/cmd"

func main() {
	cmd.Execute()
}
