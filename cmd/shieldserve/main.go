package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/loykin/shieldserve/internal/deps"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func printError(err error) {
	_, _ = fmt.Fprintln(os.Stderr, "error:", err)
	var pe *deps.ProvisionError
	if errors.As(err, &pe) && pe.Hint != "" {
		_, _ = fmt.Fprintln(os.Stderr, pe.Hint)
	}
}
