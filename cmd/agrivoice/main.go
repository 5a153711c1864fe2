// Command agrivoice runs the agricultural notice voice broadcaster.
//
// Usage:
//
//	agrivoice -c agrivoice.yaml serve            # scheduler + HTTP control surface
//	agrivoice -c agrivoice.yaml ingest           # one ingestion pass, then exit
//	agrivoice distribute [--phone P] [--resend]  # send latest notices now
//	agrivoice register --name N --phone P --locality L
//	agrivoice notices --limit 10
//	agrivoice hash-password                      # bcrypt hash for http.auth_hash
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/agrivoice/noticecast"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("agrivoice: fatal", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "agrivoice",
		Usage:   "voice agricultural notices and send them to farmers over WhatsApp",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{noticecast.EnvPrefix + "CONFIG"},
				Usage:   "YAML configuration file",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{noticecast.EnvPrefix + "LOG_LEVEL"},
				Usage:   "debug, info, warn or error (overrides the config file)",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			ingestCommand(),
			distributeCommand(),
			registerCommand(),
			noticesCommand(),
			hashPasswordCommand(),
		},
	}
}

// setup loads the configuration and installs the JSON logger.
func setup(c *cli.Context) (*noticecast.Config, *slog.Logger, error) {
	cfg, err := noticecast.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// oneShot builds a Service for a command that exits when done. The
// scheduler is never started and background jobs are awaited.
func oneShot(c *cli.Context, fn func(ctx context.Context, svc *noticecast.Service) (any, error)) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	svc, err := noticecast.New(c.Context, cfg, noticecast.WithLogger(logger))
	if err != nil {
		return err
	}
	defer svc.Close()

	out, err := fn(c.Context, svc)
	svc.WaitJobs()
	if err != nil {
		return err
	}
	return printJSON(out)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the scheduler and the HTTP control surface",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (overrides http.addr)"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			if addr := c.String("addr"); addr != "" {
				cfg.HTTP.Addr = addr
			}
			return serve(c.Context, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *noticecast.Config, logger *slog.Logger) error {
	svc, err := noticecast.New(ctx, cfg, noticecast.WithLogger(logger))
	if err != nil {
		return err
	}
	defer svc.Close()

	var mcpSrv *mcp.Server
	if cfg.HTTP.MCP {
		mcpSrv = mcp.NewServer(&mcp.Implementation{Name: "agrivoice", Version: version}, nil)
		svc.RegisterMCP(mcpSrv)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newRouter(svc, mcpSrv, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	svc.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agrivoice: listening", "addr", cfg.HTTP.Addr, "mcp", cfg.HTTP.MCP, "auth", cfg.HTTP.AuthUser != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("agrivoice: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "run one ingestion pass; new notices are sent to every registrant",
		Action: func(c *cli.Context) error {
			return oneShot(c, func(ctx context.Context, svc *noticecast.Service) (any, error) {
				return svc.Ingest(ctx)
			})
		},
	}
}

func distributeCommand() *cli.Command {
	return &cli.Command{
		Name:  "distribute",
		Usage: "send the latest notices to every registrant, or to one",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "phone", Usage: "only this registrant"},
			&cli.BoolFlag{Name: "resend", Usage: "resend stored audio files instead"},
		},
		Action: func(c *cli.Context) error {
			return oneShot(c, func(ctx context.Context, svc *noticecast.Service) (any, error) {
				switch {
				case c.Bool("resend"):
					return svc.ResendAudio(ctx)
				case c.String("phone") != "":
					return svc.DistributeTo(ctx, c.String("phone"))
				default:
					return svc.FanOut(ctx)
				}
			})
		},
	}
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "enroll a farmer and send them the latest notices",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Required: true},
			&cli.StringFlag{Name: "phone", Required: true},
			&cli.StringFlag{Name: "locality", Required: true},
		},
		Action: func(c *cli.Context) error {
			return oneShot(c, func(ctx context.Context, svc *noticecast.Service) (any, error) {
				r, _, err := svc.Register(ctx, c.String("name"), c.String("phone"), c.String("locality"))
				return r, err
			})
		},
	}
}

func noticesCommand() *cli.Command {
	return &cli.Command{
		Name:  "notices",
		Usage: "list stored notices, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
			&cli.IntFlag{Name: "offset"},
		},
		Action: func(c *cli.Context) error {
			return oneShot(c, func(ctx context.Context, svc *noticecast.Service) (any, error) {
				return svc.ListNotices(ctx, c.Int("limit"), c.Int("offset"))
			})
		},
	}
}

func hashPasswordCommand() *cli.Command {
	return &cli.Command{
		Name:  "hash-password",
		Usage: "read a password on stdin and print its bcrypt hash",
		Action: func(c *cli.Context) error {
			line, err := bufio.NewReader(c.App.Reader).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			pw := strings.TrimRight(line, "\r\n")
			if pw == "" {
				return errors.New("empty password")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, string(hash))
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
