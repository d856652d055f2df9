package main

import (
	"os"

	"github.com/joho/godotenv"

	notectlcmd "github.com/notectl/notectl/pkg/cmd"
)

func run(args []string) int {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	root := notectlcmd.NewRootCommand(notectlcmd.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
