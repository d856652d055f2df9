package cmd

import (
	"context"
	"errors"
	"io"
	stdlog "log"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notectl/notectl/pkg/auth"
	"github.com/notectl/notectl/pkg/config"
	"github.com/notectl/notectl/pkg/graph"
)

// RootConfig seeds the command tree; tests override the writer.
type RootConfig struct {
	ConfigPath   string
	OutputWriter io.Writer
}

type runtimeState struct {
	configPath string
	debug      bool
	writer     io.Writer
	cfg        *config.Config
	log        *zap.SugaredLogger
}

type runtimeKey struct{}

func DefaultConfig() RootConfig {
	return RootConfig{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg RootConfig) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter}

	root := &cobra.Command{
		Use:          "notectl",
		Short:        "OneNote MCP tool",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			rt.log = setupLogger(rt.debug)

			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}

			loaded, err := config.Load(rt.configPath)
			if err != nil {
				return err
			}
			loaded.ApplyEnv()
			loaded.Defaults()
			if err := loaded.Validate(); err != nil {
				return err
			}
			rt.cfg = loaded
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", false, "Enable debug logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewAuthCommand(),
		NewServeCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

// newTokenStore picks the cache backend from the configured storage mode.
func newTokenStore(cfg *config.Config) auth.TokenStore {
	switch cfg.TokenStorage {
	case config.StorageKeychain:
		return auth.NewKeychainStore("notectl")
	case config.StorageMemory:
		return auth.NewMemoryStore()
	default:
		return auth.NewFileStore(cfg.TokenPath)
	}
}

func (rt *runtimeState) newAuthManager() (*auth.Manager, error) {
	return auth.NewManager(auth.ManagerConfig{
		Authority: rt.cfg.Authority,
		ClientID:  rt.cfg.ClientID,
		Scopes:    rt.cfg.Scopes,
		Store:     newTokenStore(rt.cfg),
		Logger:    rt.log,
	})
}

func (rt *runtimeState) newExecutor(manager *auth.Manager) *graph.Executor {
	return graph.NewExecutor(manager, graph.Config{
		BaseURL: rt.cfg.GraphBaseURL,
		Logger:  rt.log,
	})
}

func setupLogger(debug bool) *zap.SugaredLogger {
	var zlog *zap.Logger
	var err error
	if debug {
		zlog, err = zap.NewDevelopment()
	} else {
		zlog, err = zap.NewProduction()
	}
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	return zlog.Sugar()
}
