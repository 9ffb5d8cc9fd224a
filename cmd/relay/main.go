// Command relay calls an OpenAI-compatible completion endpoint through a
// pool of interchangeable API keys, failing over across keys automatically.
//
// CLI usage:
//
//	relay invoke "prompt"        Run one completion with failover
//	relay probe                  Test every configured key
//	relay models                 Refresh the model catalog
//	relay parse-keys "a,b,c"     Inspect credential parsing
//	relay token --user 1         Mint a serve-mode API token
//	relay serve                  Run the HTTP API
//
// Environment variables:
//   - RELAY_ENDPOINT_URL: base URL of the OpenAI-compatible API
//   - RELAY_MODEL: model name for completion calls
//   - RELAY_API_KEYS: comma-separated list of API keys
//   - RELAY_SYSTEM_PROMPT, RELAY_TEMPERATURE, RELAY_MAX_ATTEMPTS
//   - RELAY_LISTEN_ADDR: serve-mode bind address
//   - LLM_API_SECRET: secret signing serve-mode bearer tokens
//   - DISABLE_AUTH: set to "true" or "1" to accept unauthenticated requests
//
// A .env file in the working directory (or any parent) is loaded first; a
// relay.yaml config file is read when present, with environment variables
// taking precedence.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"llm-relay/internal/app"
	"llm-relay/internal/llm"
	"llm-relay/pkg/utils"
)

// Set by goreleaser ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	verbose    bool
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "relay",
		Short:         "Failover relay for OpenAI-compatible LLM endpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to relay.yaml")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		versionCmd(),
		invokeCmd(opts),
		probeCmd(opts),
		modelsCmd(opts),
		parseKeysCmd(),
		tokenCmd(opts),
		serveCmd(opts),
	)
	return root
}

// setup loads the environment, the configuration and a logger shared by all
// subcommands.
func setup(opts *rootOptions) (*llm.Config, *zap.Logger, error) {
	logger, err := newLogger(opts.verbose)
	if err != nil {
		return nil, nil, err
	}

	llm.LoadEnvFile(logger)

	cfg, err := llm.LoadConfig(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay %s\n", version)
		},
	}
}

func invokeCmd(opts *rootOptions) *cobra.Command {
	var (
		system string
		stream bool
		silent bool
	)

	cmd := &cobra.Command{
		Use:   "invoke [prompt]",
		Short: "Run one completion with automatic key failover",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			inv := llm.NewInvoker(cfg, logger)
			inv.Prompt = confirmPrompter()
			inv.Notify = func(attempt, total, keyIndex int) {
				logger.Info("attempting completion",
					zap.Int("attempt", attempt),
					zap.Int("total", total),
					zap.Int("key_index", keyIndex))
			}

			req := llm.InvokeRequest{
				System: system,
				User:   strings.Join(args, " "),
				Silent: silent,
				Stream: stream,
			}
			if stream {
				req.OnChunk = func(chunk string) {
					fmt.Fprint(cmd.OutOrStdout(), chunk)
				}
			}

			out := inv.Invoke(ctx, req)
			switch out.Kind {
			case llm.OutcomeSuccess:
				if stream {
					fmt.Fprintln(cmd.OutOrStdout())
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), out.Text)
				}
				return nil
			case llm.OutcomeSuspended:
				fmt.Fprintln(cmd.ErrOrStderr(), "Request aborted.")
				return nil
			default:
				return out.Err
			}
		},
	}

	cmd.Flags().StringVar(&system, "system", "", "override the configured system prompt")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the response as it arrives")
	cmd.Flags().BoolVar(&silent, "silent", false, "skip the abort prompt")
	return cmd
}

func probeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Test every configured API key against the endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			probe := &llm.Probe{Logger: logger}
			results := probe.TestAllKeys(cmd.Context(), cfg.EndpointURL, cfg.APIKeys, cfg.Model)
			if len(results) == 0 {
				return fmt.Errorf("nothing to probe: endpoint, model and at least one API key must be configured")
			}

			keys, _ := llm.ParseKeys(cfg.APIKeys)
			passed := 0
			for _, res := range results {
				if res.Success {
					passed++
					fmt.Fprintf(cmd.OutOrStdout(), "%2d. %s  OK\n",
						res.KeyIndex+1, utils.MaskToken(keys[res.KeyIndex]))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%2d. %s  FAILED: %s\n",
					res.KeyIndex+1, utils.MaskToken(keys[res.KeyIndex]), res.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d/%d key(s) passed\n", passed, len(results))
			return nil
		},
	}
}

func modelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Refresh the model catalog from the endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store := &llm.MemoryCatalog{}
			sync := &llm.CatalogSync{Logger: logger}

			result, err := sync.Refresh(cmd.Context(), cfg.EndpointURL, cfg.APIKeys, store)
			if err != nil {
				return err
			}

			keys, _ := llm.ParseKeys(cfg.APIKeys)
			for _, invalid := range result.InvalidKeys {
				fmt.Fprintf(cmd.ErrOrStderr(), "key %s failed: %s\n",
					utils.MaskToken(keys[invalid.KeyIndex]), invalid.Error)
			}
			if !result.Success {
				return fmt.Errorf("no key produced a model listing (%d key(s) tried)", len(keys))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d model(s) available:\n", result.ModelCount)
			for _, model := range store.Models() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", model)
			}
			return nil
		},
	}
}

func parseKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-keys [raw]",
		Short: "Inspect how a raw credential string is parsed",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			keys, report := llm.ParseKeys(args[0])
			fmt.Fprintln(cmd.OutOrStdout(), report.Message)
			for i, key := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d. %s\n", i+1, utils.MaskToken(key))
			}
		},
	}
}

func tokenCmd(opts *rootOptions) *cobra.Command {
	var (
		userID uint64
		login  string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a serve-mode API bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.APISecret == "" {
				return fmt.Errorf("LLM_API_SECRET is not configured")
			}

			token, err := llm.CreateAPIToken(userID, login, cfg.APISecret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&userID, "user", 1, "user ID claim")
	cmd.Flags().StringVar(&login, "login", "local", "login claim")
	return cmd
}

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return app.NewApp(cfg, logger).Run(ctx, cfg.ListenAddr)
		},
	}
}
