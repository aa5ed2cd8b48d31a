package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/polzovatel/unsubscribe-agent/internal/bulk"
	"github.com/polzovatel/unsubscribe-agent/internal/config"
	"github.com/polzovatel/unsubscribe-agent/internal/httpapi"
	"github.com/polzovatel/unsubscribe-agent/internal/service"
	"github.com/polzovatel/unsubscribe-agent/internal/store"
)

const usage = `usage: unsubscribe-agent <command> [flags]

commands:
  run           unsubscribe from one email
  bulk          unsubscribe from many emails
  retry         retry failed tasks that still have attempts left
  status        show the task recorded for an email
  health        check browser, planner and database
  serve         start the HTTP API
  import-email  record an email and its unsubscribe link
`

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	setupLogging(cfg)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("command failed")
		stop()
		os.Exit(1)
	}
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !cfg.LogJSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func dispatch(ctx context.Context, cfg config.Config, cmd string, args []string) error {
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		fmt.Print(usage)
		return nil
	}

	svc, cleanup, err := service.Build(cfg, log.Logger)
	if err != nil {
		return err
	}
	defer cleanup()

	switch cmd {
	case "run":
		return runOne(ctx, svc, args)
	case "bulk":
		return runBulk(ctx, cfg, svc, args)
	case "retry":
		return runRetry(ctx, svc, args)
	case "status":
		return runStatus(ctx, svc, args)
	case "health":
		return runHealth(ctx, svc)
	case "serve":
		return runServe(ctx, cfg, svc, args)
	case "import-email":
		return runImport(ctx, svc, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runOne(ctx context.Context, svc *service.Service, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	emailID := fs.String("id", "", "Email ID")
	link := fs.String("link", "", "Unsubscribe link (defaults to the stored link)")
	user := fs.String("user", "", "Mailbox address used to fill forms")
	_ = fs.Parse(args)
	if strings.TrimSpace(*emailID) == "" {
		return errors.New("-id is required")
	}

	res, err := svc.UnsubscribeFromEmail(ctx, *emailID, *link, *user)
	if err != nil {
		return err
	}
	printJSON(res)
	if !res.Success {
		return fmt.Errorf("unsubscribe %s: %s", *emailID, res.Message)
	}
	return nil
}

func runBulk(ctx context.Context, cfg config.Config, svc *service.Service, args []string) error {
	fs := flag.NewFlagSet("bulk", flag.ExitOnError)
	ids := fs.String("ids", "", "Comma-separated email IDs")
	file := fs.String("file", "", "File with one email ID per line")
	user := fs.String("user", "", "Mailbox address used to fill forms")
	delay := fs.Duration("delay", cfg.BulkDelay, "Delay between windows")
	concurrency := fs.Int("concurrency", cfg.BulkMaxConcurrent, "Emails processed at once")
	_ = fs.Parse(args)

	emailIDs := splitIDs(*ids)
	if *file != "" {
		fromFile, err := readIDs(*file)
		if err != nil {
			return err
		}
		emailIDs = append(emailIDs, fromFile...)
	}
	if len(emailIDs) == 0 {
		return errors.New("no email IDs given (use -ids or -file)")
	}

	rep := svc.BulkUnsubscribe(ctx, emailIDs, *user, bulk.Options{Delay: *delay, MaxConcurrent: *concurrency})
	printJSON(rep)
	return nil
}

func runRetry(ctx context.Context, svc *service.Service, args []string) error {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	user := fs.String("user", "", "Mailbox address used to fill forms")
	_ = fs.Parse(args)

	rep, err := svc.RetryFailedUnsubscribes(ctx, *user)
	if err != nil {
		return err
	}
	printJSON(rep)
	return nil
}

func runStatus(ctx context.Context, svc *service.Service, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	emailID := fs.String("id", "", "Email ID")
	_ = fs.Parse(args)

	task, err := svc.GetUnsubscribeTaskStatus(ctx, *emailID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("no unsubscribe task for %q", *emailID)
	}
	printJSON(task)
	return nil
}

func runHealth(ctx context.Context, svc *service.Service) error {
	h := svc.Health(ctx)
	printJSON(h)
	if !h.OK() {
		return errors.New("unhealthy")
	}
	return nil
}

func runServe(ctx context.Context, cfg config.Config, svc *service.Service, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.HTTPAddr, "Listen address")
	_ = fs.Parse(args)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           httpapi.NewRouter(&httpapi.App{Service: svc, Logger: log.With().Str("comp", "http").Logger()}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", *addr).Msg("API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func runImport(ctx context.Context, svc *service.Service, args []string) error {
	fs := flag.NewFlagSet("import-email", flag.ExitOnError)
	id := fs.String("id", "", "Email ID")
	user := fs.String("user", "", "Mailbox address that received the email")
	link := fs.String("link", "", "Unsubscribe link found in the email")
	_ = fs.Parse(args)
	if *id == "" || *user == "" {
		return errors.New("-id and -user are required")
	}
	if err := svc.ImportEmail(ctx, store.Email{ID: *id, UserEmail: *user, UnsubscribeLink: *link}); err != nil {
		return err
	}
	log.Info().Str("email_id", *id).Msg("email imported")
	return nil
}

func splitIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ids file: %w", err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, sc.Err()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
