// Package cmd builds the notectl command tree.
//
// The root command loads configuration from file and environment, sets up
// logging, and stores the resulting runtime state in the command context
// where subcommands retrieve it.
package cmd
