package main

import "casematch/internal/cli"

func main() {
	cli.Execute()
}
