package cmd

import (
	"github.com/spf13/cobra"

	"github.com/notectl/notectl/pkg/mcpserver"
)

// NewServeCommand runs the MCP server over stdio.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve OneNote tools over the Model Context Protocol",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			manager, err := rt.newAuthManager()
			if err != nil {
				return err
			}
			exec := rt.newExecutor(manager)

			srv := mcpserver.New(manager, exec, rt.log)
			rt.log.Infow("starting MCP server", "transport", "stdio")
			return srv.Start()
		},
	}
}
