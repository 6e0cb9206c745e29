package main

import "complyhub/cmd/cli"

func main() {
	cli.Execute()
}
