package main

import (
	"garrison/internal/cli/cmd"
	"garrison/internal/config"
)

func main() {
	port := config.GetPort()
	cmd.Execute(port)
}
