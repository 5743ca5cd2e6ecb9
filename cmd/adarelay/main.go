package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lhdbsbz/adarelay/internal/config"
	"github.com/lhdbsbz/adarelay/internal/cron"
	"github.com/lhdbsbz/adarelay/internal/events"
	"github.com/lhdbsbz/adarelay/internal/gateway"
	"github.com/lhdbsbz/adarelay/internal/identity"
	"github.com/lhdbsbz/adarelay/internal/logging"
	"github.com/lhdbsbz/adarelay/internal/relay"
	"github.com/lhdbsbz/adarelay/internal/sunco"
	"github.com/lhdbsbz/adarelay/internal/tenant"
	"github.com/lhdbsbz/adarelay/internal/widget"
	"github.com/spf13/pflag"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("adarelay v%s\n", version)
	case "serve":
		err = serve(os.Args[2:])
	case "suggest":
		err = suggest(os.Args[2:])
	case "hash":
		err = hash(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("adarelay - reply suggestions for helpdesk tickets")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  adarelay serve [--config FILE]          Start the relay server")
	fmt.Println("  adarelay suggest --ticket ID [flags]    Request a suggestion from a running relay")
	fmt.Println("  adarelay hash TICKET_ID [--tenant ID]   Print the upstream user id for a ticket")
	fmt.Println("  adarelay version                        Show version info")
}

func serve(args []string) error {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	cfgFlag := flags.StringP("config", "c", "", "config file (default $ADARELAY_HOME/config.yaml)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	envErr := godotenv.Load()

	home := config.ResolveHome()
	cfgPath := config.ResolveConfigPath(*cfgFlag)
	cfg, cfgErr := config.Load(cfgPath)
	if cfgErr != nil {
		var err error
		cfg, err = config.LoadFromExample(home)
		if err != nil {
			return err
		}
	}
	config.Set(cfg)

	logCloser := logging.Setup(cfg.Log)
	defer logCloser.Close()

	slog.Info("adarelay starting", "version", version, "home", home)
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", envErr)
	}
	if cfgErr != nil {
		slog.Warn("config not found, using defaults", "path", cfgPath, "error", cfgErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := tenant.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open tenant store: %w", err)
	}
	defer store.Close()
	slog.Info("tenant store ready", "driver", cfg.Store.Driver)

	client := sunco.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout)
	client.Auth = cfg.Upstream.Auth
	client.ScopeByTenant = cfg.Identity.ScopeByTenant

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.URL != "" {
		p, err := events.Dial(cfg.Events.URL, cfg.Events.Exchange, slog.Default())
		if err != nil {
			slog.Warn("relay events disabled", "error", err)
		} else {
			publisher = p
			defer p.Close()
		}
	}

	svc := &relay.Service{
		Tenants:  store,
		Upstream: client,
		Fallback: singleTenantCredentials,
		Events:   publisher,
	}
	if cfg.Upstream.HasCredentials() {
		slog.Info("single-tenant credentials configured", "appId", cfg.Upstream.AppID)
	}

	sched := cron.NewScheduler(nil)
	if err := sched.SetKeepalive(cfg.Keepalive.URL, cfg.Keepalive.Schedule); err != nil {
		slog.Warn("keepalive disabled", "error", err)
	}
	sched.Start()
	defer sched.Stop()

	srv := gateway.NewServer(cfg, svc)
	srv.Scheduler = sched
	config.RegisterOnReload(srv.Reload)
	config.RegisterOnReload(func(c *config.Config) {
		if err := sched.SetKeepalive(c.Keepalive.URL, c.Keepalive.Schedule); err != nil {
			slog.Warn("keepalive not updated", "error", err)
		}
	})

	if cfgErr == nil {
		go config.Watch(ctx, cfgPath)
	}

	return srv.Start(ctx)
}

// singleTenantCredentials reads the current config so a hot reload or new
// SUNSHINE_* values take effect without a restart.
func singleTenantCredentials() (sunco.Credentials, bool) {
	u := config.Get().Upstream
	if !u.HasCredentials() {
		return sunco.Credentials{}, false
	}
	return sunco.Credentials{AppID: u.AppID, KeyID: u.KeyID, Secret: u.Secret}, true
}

func suggest(args []string) error {
	def := config.DefaultConfig().Widget
	flags := pflag.NewFlagSet("suggest", pflag.ContinueOnError)
	relayURL := flags.String("relay", "http://localhost:3000", "relay base URL")
	ticketID := flags.String("ticket", "", "helpdesk ticket id (required)")
	tenantID := flags.String("tenant", "", "hashedId from setup; empty for a single-tenant relay")
	file := flags.StringP("file", "f", "-", "ticket conversation JSON (helpdesk comment array); - for stdin")
	interval := flags.Duration("interval", def.PollInterval, "poll interval")
	maxAttempts := flags.Int("max-attempts", def.MaxAttempts, "polls before giving up")
	timeout := flags.Duration("request-timeout", def.RequestTimeout, "per-request timeout")
	verbose := flags.BoolP("verbose", "v", false, "print state changes to stderr")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *ticketID == "" {
		return errors.New("--ticket is required")
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	slog.SetDefault(slog.New(logging.NewHandler(os.Stderr, config.LogConfig{Level: level})))

	snapshot, err := readConversation(*file)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := &widget.Widget{
		Relay:       widget.NewClient(*relayURL, *tenantID, *timeout),
		Interval:    *interval,
		MaxAttempts: *maxAttempts,
		Render: func(v widget.View) {
			if *verbose {
				fmt.Fprintf(os.Stderr, "[%s] %s attempt=%d\n", time.Now().Format(time.TimeOnly), v.State, v.Attempt)
			}
		},
	}
	res := <-w.Generate(ctx, *ticketID, snapshot)
	switch res.State {
	case widget.StateResolved:
		fmt.Println(res.Text)
		return nil
	case widget.StateTimedOut:
		return errors.New("no suggestion received, try again")
	default:
		if errors.Is(res.Err, widget.ErrSetupRequired) {
			return errors.New("relay has no configuration for this tenant, complete setup first")
		}
		return res.Err
	}
}

func readConversation(path string) (widget.Snapshot, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open conversation: %w", err)
		}
		defer f.Close()
		r = f
	}
	var comments []widget.ZendeskComment
	if err := json.NewDecoder(r).Decode(&comments); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	if len(comments) == 0 {
		return nil, errors.New("conversation is empty")
	}
	return widget.FromZendesk(comments), nil
}

func hash(args []string) error {
	flags := pflag.NewFlagSet("hash", pflag.ContinueOnError)
	tenantID := flags.String("tenant", "", "tenant id, for relays with identity.scopeByTenant")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: adarelay hash TICKET_ID [--tenant ID]")
	}
	fmt.Println(identity.ExternalID(flags.Arg(0), *tenantID))
	return nil
}
