// Package main implements payctl, the operator CLI for the payments core.
//
// It runs the same repair and maintenance paths the API and fulfillment
// worker use, directly against the database, for backfills and incident
// response.
//
// Usage:
//
//	go run ./cmd/ops/payctl migrate
//	go run ./cmd/ops/payctl repair -order order_Nx81
//	go run ./cmd/ops/payctl sweep -limit 200
//	go run ./cmd/ops/payctl fetch-webhook -key webhooks/razorpay/2026/03/01/ab12....json.zst
//	go run ./cmd/ops/payctl mint-token -user user_1 -email dev@example.com -ttl 2h
//
// Settings come from the environment (or a .env file via godotenv):
// DATABASE_URL for migrate, repair and sweep; WEBHOOK_ARCHIVE_BUCKET and
// AWS_REGION for fetch-webhook; JWT_SECRET and JWT_ISSUER for mint-token.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"tourbook/internal/archive"
	"tourbook/internal/auth"
	"tourbook/internal/db"
	"tourbook/internal/payments"
	"tourbook/internal/types"
)

// errUsage marks argument errors; run prints usage and exits 2 for them.
var errUsage = errors.New("usage error")

// env looks up a setting. main passes os.Getenv.
type env func(key string) string

type command struct {
	summary string
	run     func(ctx context.Context, args []string, getenv env, out io.Writer, logger *slog.Logger) error
}

var commands = map[string]command{
	"migrate":       {"Apply the embedded schema (idempotent)", runMigrate},
	"repair":        {"Re-run fulfillment for one paid order", runRepair},
	"sweep":         {"Re-run fulfillment for paid orders missing it", runSweep},
	"fetch-webhook": {"Print an archived webhook body", runFetchWebhook},
	"mint-token":    {"Issue a user token for local testing", runMintToken},
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run dispatches one subcommand and returns the process exit code.
func run(ctx context.Context, args []string, getenv env, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "error: unknown command %q\n\n", args[0])
		printUsage(stderr)
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := cmd.run(ctx, args[1:], getenv, stdout, logger); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 2
		}
		logger.Error("command failed", "command", args[0], "error", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: payctl <command> [flags]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-15s %s\n", name, commands[name].summary)
	}
}

// parseFlags parses args into fs, folding flag errors into errUsage.
func parseFlags(fs *flag.FlagSet, args []string) error {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s: %v: %w", fs.Name(), err, errUsage)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%s: unexpected arguments %v: %w", fs.Name(), fs.Args(), errUsage)
	}
	return nil
}

func openPool(ctx context.Context, getenv env) (*pgxpool.Pool, error) {
	url := getenv("DATABASE_URL")
	if url == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	return db.NewPool(ctx, db.PoolConfig{URL: url, MaxConns: 4, ConnectTimeout: 10 * time.Second})
}

func newRepairer(pool *pgxpool.Pool, logger *slog.Logger) *payments.Repairer {
	dispatcher := payments.NewDispatcher(db.NewFulfillmentRepository(pool, logger), logger)
	return payments.NewRepairer(db.NewPaymentRepository(pool, logger), dispatcher, logger, 0)
}

func runMigrate(ctx context.Context, args []string, getenv env, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	pool, err := openPool(ctx, getenv)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	fmt.Fprintln(out, "schema applied")
	return nil
}

func runRepair(ctx context.Context, args []string, getenv env, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("repair", flag.ContinueOnError)
	orderID := fs.String("order", "", "Provider order id to repair (required)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *orderID == "" {
		return fmt.Errorf("repair: -order is required: %w", errUsage)
	}

	pool, err := openPool(ctx, getenv)
	if err != nil {
		return err
	}
	defer pool.Close()

	fr, err := newRepairer(pool, logger).RepairOrder(ctx, *orderID)
	if err != nil {
		return err
	}
	return writeJSON(out, fr)
}

func runSweep(ctx context.Context, args []string, getenv env, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	limit := fs.Int("limit", 100, "Maximum paid records to examine")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *limit <= 0 {
		return fmt.Errorf("sweep: -limit must be positive: %w", errUsage)
	}

	pool, err := openPool(ctx, getenv)
	if err != nil {
		return err
	}
	defer pool.Close()

	report, err := newRepairer(pool, logger).Sweep(ctx, *limit)
	if err != nil {
		return err
	}
	return writeJSON(out, report)
}

func runFetchWebhook(ctx context.Context, args []string, getenv env, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("fetch-webhook", flag.ContinueOnError)
	key := fs.String("key", "", "Archive object key (required)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *key == "" {
		return fmt.Errorf("fetch-webhook: -key is required: %w", errUsage)
	}
	bucket := getenv("WEBHOOK_ARCHIVE_BUCKET")
	if bucket == "" {
		return errors.New("WEBHOOK_ARCHIVE_BUCKET is not set")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if region := getenv("AWS_REGION"); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	endpoint := getenv("AWS_ENDPOINT_URL")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		}
	})

	body, err := archive.NewWebhookArchive(client, bucket, logger).Fetch(ctx, *key)
	if err != nil {
		return err
	}
	_, err = out.Write(append(body, '\n'))
	return err
}

func runMintToken(_ context.Context, args []string, getenv env, out io.Writer, _ *slog.Logger) error {
	fs := flag.NewFlagSet("mint-token", flag.ContinueOnError)
	userID := fs.String("user", "", "Subject user id (required)")
	email := fs.String("email", "", "Email claim")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("mint-token: -user is required: %w", errUsage)
	}
	if *ttl <= 0 {
		return fmt.Errorf("mint-token: -ttl must be positive: %w", errUsage)
	}
	secret := getenv("JWT_SECRET")
	if secret == "" {
		return errors.New("JWT_SECRET is not set")
	}

	issuer := auth.NewTokenAuthenticator(auth.TokenConfig{
		JWTSecret: types.SecretString(secret),
		JWTIssuer: getenv("JWT_ISSUER"),
	})
	token, err := issuer.IssueToken(*userID, *email, *ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
