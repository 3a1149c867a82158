package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	cbmcp "github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/mcp"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/postgres"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/config"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/middleware"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/service"
)

// runAdmin dispatches admin subcommands (hash-key, migrate, tools).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-key":
		return runAdminHashKey(args[1:])
	case "migrate":
		return runAdminMigrate(args[1:])
	case "tools":
		return runAdminTools(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: cerebro admin <command> [options]

Commands:
  hash-key   Print the bcrypt hash of an API key for server.api_key_hash
  migrate    Apply, roll back or show PostgreSQL migrations
  tools      Discover and list the tools of every configured service
  help       Show this help message

Examples:
  cerebro admin hash-key
  cerebro admin migrate --action status
  cerebro admin migrate --action down --steps 1
  cerebro admin tools
`)
}

func runAdminHashKey(args []string) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	key := fs.String("key", "", "API key (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	k := *key
	if k == "" {
		var err error
		k, err = promptPassword("API key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		confirm, err := promptPassword("Confirm API key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		if k != confirm {
			return fmt.Errorf("keys do not match")
		}
	}
	if len(k) < 16 {
		return fmt.Errorf("API key must be at least 16 characters")
	}

	hash, err := middleware.HashAPIKey(k)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Println(hash)
	return nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	action := fs.String("action", "up", "up, down or status")
	steps := fs.Int("steps", 1, "migrations to roll back with --action down")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	dsn := cfg.Postgres.DSN

	switch *action {
	case "up":
		if err := postgres.RunMigrations(ctx, dsn); err != nil {
			return err
		}
	case "down":
		if *steps < 1 {
			return fmt.Errorf("--steps must be >= 1")
		}
		if err := postgres.RollbackMigrations(ctx, dsn, *steps); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("unknown action %q", *action)
	}

	v, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Migration version: %d\n", v)
	return nil
}

func runAdminTools(args []string) error {
	fs := flag.NewFlagSet("tools", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 30*time.Second, "discovery timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defs, err := service.LoadServerDefs(&cfg.MCP)
	if err != nil {
		return err
	}

	transport := cbmcp.NewTransport(version)
	defer func() { _ = transport.Close() }()
	registry := service.NewRegistryService(transport, nil, service.RegistryConfig{ListTimeout: cfg.Tools.ListTimeout})
	registry.SetServers(defs)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	tools, err := registry.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("discover tools: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SERVICE\tSTATUS\tTOOLS\tERROR")
	for _, s := range registry.Servers() {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Name, s.Status, s.Tools, s.Error)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "TOOL\tDESCRIPTION")
	for i := range tools {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", tools[i].Name, tools[i].Description)
	}
	return w.Flush()
}

// promptPassword reads a secret from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
