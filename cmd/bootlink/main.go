package main

import (
	"github.com/robotalks/bootlink/pkg/cli/sh"
)

func main() {
	sh.Main()
}
