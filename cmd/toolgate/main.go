package main

import "github.com/toolgate/toolgate/cmd/toolgate/cmd"

func main() {
	cmd.Execute()
}
