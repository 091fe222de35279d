package main

import (
	"github.com/dolphingaming392/dolphinbot/cmd"
)

func main() {
	cmd.Execute()
}
