package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	balance "balance-tracer/internal/balance/domain"
)

// fixture is the YAML document loaded by the seed command:
//
//	series:
//	  - id: acc-1
//	    records:
//	      - {base_ccy: EUR, balance: "100.10", at: 2019-06-26T09:00:00Z}
//	  - id: acc-empty
type fixture struct {
	Series []fixtureSeries `yaml:"series"`
}

type fixtureSeries struct {
	ID      string          `yaml:"id"`
	Records []fixtureRecord `yaml:"records"`
}

type fixtureRecord struct {
	BaseCcy string    `yaml:"base_ccy"`
	Balance string    `yaml:"balance"`
	At      time.Time `yaml:"at"`
}

func loadFixture(path string) (fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fixture{}, errors.Wrap(err, "read fixture")
	}
	var fx fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return fixture{}, errors.Wrapf(err, "parse fixture %s", path)
	}
	return fx, nil
}

// records flattens the fixture, validating every entry.
func (fx fixture) records() (ids []string, records []balance.BalanceRecord, err error) {
	seen := make(map[string]struct{}, len(fx.Series))
	for _, s := range fx.Series {
		if s.ID == "" {
			return nil, nil, errors.New("fixture: series without id")
		}
		if _, dup := seen[s.ID]; dup {
			return nil, nil, errors.Errorf("fixture: duplicate series %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		ids = append(ids, s.ID)

		for i, r := range s.Records {
			amount, err := decimal.NewFromString(r.Balance)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "fixture: series %s record %d balance", s.ID, i)
			}
			if r.At.IsZero() {
				return nil, nil, errors.Errorf("fixture: series %s record %d has no timestamp", s.ID, i)
			}
			rec := balance.BalanceRecord{Series: s.ID, BaseCcy: r.BaseCcy, Balance: amount, At: r.At.UTC()}
			if err := rec.Validate(); err != nil {
				return nil, nil, errors.Wrapf(err, "fixture: series %s record %d", s.ID, i)
			}
			records = append(records, rec)
		}
	}
	return ids, records, nil
}
