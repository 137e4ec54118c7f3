package main

import "support_server/internal/cli"

func main() {
	cli.Execute()
}
