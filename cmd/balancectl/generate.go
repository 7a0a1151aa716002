package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	balance "balance-tracer/internal/balance/domain"
)

type generateCmd struct {
	out        io.Writer
	prefix     string
	count      int
	startDate  string
	days       int
	perDay     int
	currencies string
}

func (*generateCmd) Name() string     { return "generate" }
func (*generateCmd) Synopsis() string { return "write deterministic synthetic series for load tests" }
func (*generateCmd) Usage() string {
	return `balancectl generate [-prefix acc-perf-] [-count 10] [-start-date YYYY-MM-DD] [-days 7] [-per-day 4] [-currencies EUR,USD]

  Writes count series with per-day observations each day, cycling through
  the currencies. Rerunning with the same flags rewrites the same records.
`
}

func (c *generateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.prefix, "prefix", "acc-perf-", "Series id prefix.")
	f.IntVar(&c.count, "count", 10, "Number of series.")
	f.StringVar(&c.startDate, "start-date", "", "First day (YYYY-MM-DD or RFC3339, default a week ago).")
	f.IntVar(&c.days, "days", 7, "Number of days.")
	f.IntVar(&c.perDay, "per-day", 4, "Observations per series per day.")
	f.StringVar(&c.currencies, "currencies", "EUR,USD", "Comma separated currency codes.")
}

func (c *generateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	start, err := parseStartDate(c.startDate, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid start-date: %v\n", err)
		return subcommands.ExitUsageError
	}
	plan := generatePlan{
		ids:        buildSeriesIDs(c.prefix, c.count),
		start:      start,
		days:       c.days,
		perDay:     c.perDay,
		currencies: splitCSV(c.currencies),
	}
	if err := plan.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
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

	written := 0
	for idx, id := range plan.ids {
		records := plan.records(idx, id)
		if err := handle.Store.Append(ctx, records...); err != nil {
			fmt.Fprintf(os.Stderr, "generate %s: %v\n", id, err)
			return subcommands.ExitFailure
		}
		written += len(records)
	}
	fmt.Fprintf(c.out, "generated %d series, %d records into %s\n", len(plan.ids), written, handle.Backend)
	return subcommands.ExitSuccess
}

type generatePlan struct {
	ids        []string
	start      time.Time
	days       int
	perDay     int
	currencies []string
}

func (p generatePlan) validate() error {
	switch {
	case len(p.ids) == 0:
		return errors.New("count must be > 0")
	case p.days <= 0:
		return errors.New("days must be > 0")
	case p.perDay <= 0 || p.perDay > 24:
		return errors.New("per-day must be within 1..24")
	case len(p.currencies) == 0:
		return errors.New("at least one currency is required")
	}
	return nil
}

// records builds one series; its currency is fixed by index, balances drift
// by a cent per observation.
func (p generatePlan) records(idx int, id string) []balance.BalanceRecord {
	ccy := p.currencies[idx%len(p.currencies)]
	base := decimal.NewFromInt(int64((idx%10)+1) * 1000)
	step := 24 / p.perDay
	out := make([]balance.BalanceRecord, 0, p.days*p.perDay)
	for day := 0; day < p.days; day++ {
		dayStart := p.start.AddDate(0, 0, day)
		for n := 0; n < p.perDay; n++ {
			seq := int64(day*p.perDay + n)
			out = append(out, balance.BalanceRecord{
				Series:  id,
				BaseCcy: ccy,
				Balance: base.Add(decimal.New(seq, -2)),
				At:      dayStart.Add(time.Duration(n*step) * time.Hour),
			})
		}
	}
	return out
}

func parseStartDate(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return now.UTC().AddDate(0, 0, -7).Truncate(24 * time.Hour), nil
	}
	if strings.Contains(value, "T") {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func buildSeriesIDs(prefix string, count int) []string {
	list := make([]string, 0, max(count, 0))
	for i := 1; i <= count; i++ {
		list = append(list, fmt.Sprintf("%s%04d", prefix, i))
	}
	return list
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
