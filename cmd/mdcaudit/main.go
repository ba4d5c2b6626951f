package main

import "github.com/dataforgetx/ds-portfolio/internal/cli"

func main() {
	cli.Execute()
}
