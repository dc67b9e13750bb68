package cmd

import (
	"fmt"
)

const banner = `
  _____                 _      _       _
 |_   _|               | |    (_)     | |
   | |  _ __ ___  _ __ | |     _ _ __ | | __
   | | | '__/ _ \| '_ \| |    | | '_ \| |/ /
  _| |_| | | (_) | | | | |____| | | | |   <
 |_____|_|  \___/|_| |_|______|_|_| |_|_|\_\

`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Secure Channel Responder - Version %s\x1b[0m\n\n", Version)
}
