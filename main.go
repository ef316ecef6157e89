package main

import (
	"os"

	"inkwell/service"
)

var exit = os.Exit

func main() {
	exit(service.Execute())
}
