package main

import "couplesync/cmd"

func main() {
	cmd.Run()
}
