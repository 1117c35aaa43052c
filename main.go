package main

import "allies-service/internal/cli"

func main() {
	cli.Execute()
}
