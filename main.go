package main

import (
	"MixStudio/cmd"
)

func main() {
	cmd.Execute()
}
