package main

import (
	"context"
	"fmt"
	"os"

	"github.com/miguelmartens/opgecanceld-blocklist/internal/cli"
)

func run() error {
	return cli.Execute(context.Background())
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
