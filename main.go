// The main package for the tmfetch executable.
package main

import "github.com/soccerdata/tmfetch/cmd"

func main() {
	cmd.Execute()
}
