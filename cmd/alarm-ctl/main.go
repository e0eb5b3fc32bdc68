package main

import "github.com/oshokin/alarm-panel/cmd/alarm-ctl/cmd"

func main() {
	cmd.Execute()
}
