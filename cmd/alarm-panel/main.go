package main

import "github.com/oshokin/alarm-panel/cmd/alarm-panel/cmd"

func main() {
	cmd.Execute()
}
