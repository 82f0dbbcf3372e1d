package main

import (
	"context"
	"os"
)

func main() {
	rootCmd := newRootCommand()
	rootCmd.AddCommand(newServeCommand(), newRunCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
