package main

import "github.com/robertgumeny/issuerunner/cmd"

func main() {
	cmd.Execute()
}
