package main

import "lakeloader/cmd"

func main() {
	cmd.Execute()
}
