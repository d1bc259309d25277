package main

import "github.com/SafeMPC/chainsig/cmd"

func main() {
	cmd.Execute()
}
