package main

import (
	"riverflow/internal/cli"
)

func main() {
	cli.Execute()
}
