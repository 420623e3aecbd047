package main

import "github.com/mselser95/binary-arb/cmd"

func main() {
	cmd.Execute()
}
