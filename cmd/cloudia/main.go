package main

import "cloudia/internal/cli"

func main() {
	cli.Execute()
}
