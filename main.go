package main

import "github.com/streamregex/streamregex/cmd"

func main() {
	cmd.Execute()
}
