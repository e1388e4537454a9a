package main

import (
	"Bt1QMix/cmd"
)

func main() {
	cmd.Execute()
}
