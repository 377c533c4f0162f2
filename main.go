package main

import "lalo/core/cmd"

func main() {
	cmd.Execute()
}
