// Command mlbr lists, validates, and extracts CP/M archive files:
// Squeeze, Crunch, and Cr-Lzh compressed files, plus LBR libraries that
// bundle any of the above.
package main

import "os"

func main() {
	app := newApp()
	_ = app.Run(os.Args)
}
