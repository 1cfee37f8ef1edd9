package main

import "tao-supply-stats/internal/cli"

func main() {
	cli.Execute()
}
