package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/gemini-relay/internal/config"
	"github.com/r9s-ai/gemini-relay/internal/logx"
	"github.com/r9s-ai/gemini-relay/internal/relay"
	"github.com/r9s-ai/gemini-relay/internal/secret"
	"github.com/r9s-ai/gemini-relay/internal/upstream"
	"github.com/r9s-ai/gemini-relay/internal/version"
)

const defaultConfigPath = "gemini-relay.yaml"

type globalOptions struct {
	cfgPath string
	envFile string
}

func run(args []string) error {
	root := newRootCmd(os.Stdout)
	root.SetArgs(args)
	return root.Execute()
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "gemini-relay",
		Short:         "HTTP relay for the Gemini generateContent and generateImage APIs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	cmd.SetOut(out)
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.cfgPath, "config", "c", "", "config yaml path (default "+defaultConfigPath+" when present)")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config; missing is fine")

	cmd.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts, out),
		newEncryptCmd(os.Stdin, out),
		newVersionCmd(out),
	)
	return cmd
}

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
}

func newCheckCmd(opts *globalOptions, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the configuration and report problems without serving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			client := relay.NewUpstreamClient(cfg)
			_, _ = fmt.Fprintf(out, "listen:   %s\n", cfg.Server.Listen)
			_, _ = fmt.Fprintf(out, "text:     %s\n", client.MaskedEndpoint(upstream.ActionGenerateContent))
			_, _ = fmt.Fprintf(out, "image:    %s\n", client.MaskedEndpoint(upstream.ActionGenerateImage))
			for _, w := range cfg.Warnings() {
				_, _ = fmt.Fprintf(out, "warning:  %s\n", w)
			}
			_, _ = fmt.Fprintln(out, "configuration ok")
			return nil
		},
	}
}

func newEncryptCmd(in io.Reader, out io.Writer) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt an API key into an ENC[...] value using " + secret.MasterKeyEnv,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plain := strings.TrimSpace(text)
			if plain == "" {
				b, err := io.ReadAll(in)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				plain = strings.TrimSpace(string(b))
			}
			if plain == "" {
				return errors.New("missing input: provide --text or pipe stdin")
			}
			key, err := secret.MasterKeyFromEnv()
			if err != nil {
				return err
			}
			enc, err := secret.Encrypt(plain, key)
			if err != nil {
				return fmt.Errorf("encrypt: %w", err)
			}
			_, err = fmt.Fprintln(out, enc)
			return err
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "plain text to encrypt (read from stdin when empty)")
	return cmd
}

func newVersionCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(out, version.Get())
			return err
		},
	}
}

func runServe(opts *globalOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := logx.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return relay.Run(cfg, logger)
}

// loadConfig loads the env file first so its values feed the env overrides.
// An explicit --config must exist; the default path is optional.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	if _, err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, err
	}
	path := strings.TrimSpace(opts.cfgPath)
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", defaultConfigPath, err)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
