package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"go.uber.org/zap"

	"balance-tracer/internal/auth"
	balanceapp "balance-tracer/internal/balance/application"
	balance "balance-tracer/internal/balance/domain"
	"balance-tracer/internal/balance/infrastructure/stores"
	balancehttp "balance-tracer/internal/balance/interfaces/http"
	"balance-tracer/internal/config"
	"balance-tracer/internal/observability/logging"
)

func commands(out io.Writer) []subcommands.Command {
	return []subcommands.Command{
		&resolveCmd{out: out},
		&totalCmd{out: out},
		&seedCmd{out: out},
		&tokenCmd{out: out},
		&generateCmd{out: out},
	}
}

// openStore loads the service configuration and opens its store.
func openStore(ctx context.Context) (config.Config, *stores.Handle, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, nil, err
	}
	// stdout carries command output; keep logs quiet unless asked for
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.Log.Level = "warn"
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return cfg, nil, nil, err
	}
	handle, err := stores.Open(ctx, cfg.Store)
	if err != nil {
		return cfg, nil, nil, err
	}
	return cfg, handle, logger, nil
}

type resolveCmd struct {
	out io.Writer
}

func (*resolveCmd) Name() string     { return "resolve" }
func (*resolveCmd) Synopsis() string { return "print the canonical as-of moment for a date" }
func (*resolveCmd) Usage() string {
	return `balancectl resolve <moment>

  Prints the moment snapped to the 22:00 daily cutoff, e.g.
  "2019-06-26T04:42:24Z" -> "2019-06-26 22:00:00".
`
}
func (*resolveCmd) SetFlags(*flag.FlagSet) {}

func (c *resolveCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	moment, err := balance.ResolveMoment(f.Arg(0), time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Fprintln(c.out, moment.String())
	return subcommands.ExitSuccess
}

type totalCmd struct {
	out    io.Writer
	format string
}

func (*totalCmd) Name() string     { return "total" }
func (*totalCmd) Synopsis() string { return "print per-currency totals as of a moment" }
func (*totalCmd) Usage() string {
	return `balancectl total [-format json|csv] <moment>

  Aggregates the configured store (BALANCE_STORE, BALANCE_TRACER_DSN) as of
  the moment and prints the same document the HTTP endpoint returns.
`
}

func (c *totalCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.format, "format", "json", "Output format (json, csv).")
}

func (c *totalCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if c.format != "json" && c.format != "csv" {
		fmt.Fprintf(os.Stderr, "unsupported format %q\n", c.format)
		return subcommands.ExitUsageError
	}

	cfg, handle, logger, err := openStore(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer func() { _ = handle.Close() }()

	service, err := balanceapp.NewTotalBalanceService(handle.Store,
		balanceapp.WithLogger(logger),
		balanceapp.WithBackend(handle.Backend),
		balanceapp.WithStoreTimeout(cfg.Store.Timeout),
		balanceapp.WithAggregator(balanceapp.NewAggregator(
			balanceapp.WithFanOut(cfg.FanOut),
			balanceapp.WithAggregatorLogger(logger),
		)),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	result, err := service.TotalBalanceAsOfDate(ctx, f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	var body []byte
	if c.format == "csv" {
		body, err = balancehttp.BuildTotalBalanceCSV(result)
	} else {
		body, err = balancehttp.MarshalTotalBalance(result)
		body = append(body, '\n')
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	_, _ = c.out.Write(body)
	for _, id := range result.Missing {
		fmt.Fprintf(os.Stderr, "warning: series %s has no balance as of %s\n", id, result.AsOf)
	}
	return subcommands.ExitSuccess
}

type seedCmd struct {
	out io.Writer
}

func (*seedCmd) Name() string     { return "seed" }
func (*seedCmd) Synopsis() string { return "load fixture balances into the configured store" }
func (*seedCmd) Usage() string {
	return `balancectl seed <fixture.yaml>

  Registers every series of the fixture and writes its records, replacing
  records with the same timestamp. With BALANCE_STORE=memory the fixture is
  only validated.
`
}
func (*seedCmd) SetFlags(*flag.FlagSet) {}

func (c *seedCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	fx, err := loadFixture(f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	ids, records, err := fx.records()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	_, handle, _, err := openStore(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer func() { _ = handle.Close() }()

	if err := handle.EnsureSchema(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	for _, id := range ids {
		if err := handle.Store.Track(ctx, id); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
	}
	if err := handle.Store.Append(ctx, records...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Fprintf(c.out, "seeded %d series, %d records into %s\n", len(ids), len(records), handle.Backend)
	return subcommands.ExitSuccess
}

type tokenCmd struct {
	out     io.Writer
	role    string
	subject string
	ttl     time.Duration
}

func (*tokenCmd) Name() string     { return "token" }
func (*tokenCmd) Synopsis() string { return "issue a bearer token signed with AUTH_JWT_SECRET" }
func (*tokenCmd) Usage() string {
	return `balancectl token [-role viewer] [-sub <subject>] [-ttl 1h]
`
}

func (c *tokenCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.role, "role", string(auth.RoleViewer), "Role claim (viewer, operator, admin).")
	f.StringVar(&c.subject, "sub", "balancectl", "Subject claim.")
	f.DurationVar(&c.ttl, "ttl", time.Hour, "Token lifetime.")
}

func (c *tokenCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	role, ok := auth.NormalizeRole(c.role)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", c.role)
		return subcommands.ExitUsageError
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	token, err := auth.IssueJWT([]byte(cfg.JWTSecret), role, c.subject, c.ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Fprintln(c.out, token)
	return subcommands.ExitSuccess
}
