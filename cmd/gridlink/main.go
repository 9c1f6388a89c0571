package main

import "github.com/gridlink-project/gridlink/internal/cli"

func main() {
	cli.Execute()
}
