package main

import (
	"fmt"
	"os"

	"nidentity/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "nidentity:", err)
		os.Exit(1)
	}
}
