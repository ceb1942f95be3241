package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"duckbridge/internal/coordinator"
	"duckbridge/internal/domain"
	"duckbridge/internal/manifest"
)

type queryOptions struct {
	sources   string
	remote    string
	token     string
	assetRoot string
	timeout   time.Duration
}

func newQueryCmd(g *globals) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query [sql]",
		Short: "Run SQL against registered sources",
		Long: `Run SQL against the views of a sources manifest. The SQL is read from the
argument or, when omitted, from stdin. With --remote the query is sent to
the remote engine first and re-run locally if it fails there.`,
		Example: `  duckbridge query --sources sources.yaml "SELECT count(*) FROM orders.daily"
  echo "SELECT 42 AS answer" | duckbridge query -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readSQL(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			p := g.active
			opts.sources = resolveSetting(cmd, "sources", opts.sources, "DUCKBRIDGE_SOURCES", p.Sources)
			opts.remote = resolveSetting(cmd, "remote", opts.remote, "DUCKBRIDGE_REMOTE", p.Remote)
			opts.token = resolveSetting(cmd, "token", opts.token, "DUCKBRIDGE_TOKEN", p.Token)
			opts.assetRoot = resolveSetting(cmd, "asset-root", opts.assetRoot, "DUCKBRIDGE_ASSET_ROOT", p.AssetRoot)
			if opts.remote != "" {
				if err := validateRemoteURL(opts.remote); err != nil {
					return err
				}
			}

			level := slog.LevelWarn
			if g.debug {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			res, err := runQuery(cmd.Context(), opts, g.debug, logger, sql)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return renderResult(out, resolveOutputFormat(g.output, out), res)
		},
	}

	cmd.Flags().StringVar(&opts.sources, "sources", "", "YAML sources manifest to register before querying")
	cmd.Flags().StringVar(&opts.remote, "remote", "", "Remote engine URL (grpc:// or grpcs://)")
	cmd.Flags().StringVar(&opts.token, "token", "", "Bearer token for the remote engine")
	cmd.Flags().StringVar(&opts.assetRoot, "asset-root", "", "Directory or base URL for root-absolute locations")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", coordinator.DefaultReadyTimeout, "Bound on engine readiness waits")

	return cmd
}

// readSQL takes the SQL from args, or from in when it is piped.
func readSQL(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		if sql := strings.TrimSpace(args[0]); sql != "" {
			return sql, nil
		}
		return "", fmt.Errorf("sql must not be empty")
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", fmt.Errorf("provide SQL as an argument or on stdin")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	sql := strings.TrimSpace(string(data))
	if sql == "" {
		return "", fmt.Errorf("provide SQL as an argument or on stdin")
	}
	return sql, nil
}

// runQuery builds a short-lived coordinator, registers the manifest, and
// runs sql. A configured remote engine is given the ready timeout to
// connect; if it does not, the query runs locally.
func runQuery(ctx context.Context, opts queryOptions, debug bool, logger *slog.Logger, sql string) (*domain.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	c := coordinator.New(coordinator.Options{
		AssetRoot:      opts.assetRoot,
		RemoteURL:      opts.remote,
		RemoteToken:    opts.token,
		ReadyTimeout:   opts.timeout,
		Debug:          debug,
		Logger:         logger,
		WithoutSources: opts.sources == "",
	})
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("close engine", "error", err)
		}
	}()

	if opts.sources != "" {
		m, err := manifest.Load(opts.sources)
		if err != nil {
			return nil, err
		}
		if err := c.RegisterSources(ctx, m.Sources, m.Append); err != nil {
			return nil, err
		}
	}
	if opts.remote != "" {
		if err := c.RemoteReady(ctx); err != nil {
			logger.Warn("remote engine unavailable, running locally", "remote", opts.remote, "error", err)
		}
	}
	return c.Query(ctx, sql)
}
