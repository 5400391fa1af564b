package main

import "github.com/khanhnv2901/seca-trust/cmd"

var execCmd = cmd.Execute

func main() {
	execCmd()
}
