// Package runner registers and executes e2e scenarios against a deployed
// quote service.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"
)

// Test is one scenario. Timeout overrides Config.Timeout when set.
type Test struct {
	Name        string
	Description string
	Timeout     time.Duration
	Run         func(ctx context.Context, cfg *Config) error
}

// Config holds test runner configuration.
type Config struct {
	QuoteURL string
	Env      string
	Timeout  time.Duration
}

// Result is the outcome of one scenario.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Passed reports whether the scenario succeeded.
func (r Result) Passed() bool { return r.Err == nil }

var tests = map[string]*Test{}

// Register adds a scenario. Called from init functions in the tests package.
func Register(t *Test) {
	if _, dup := tests[t.Name]; dup {
		panic(fmt.Sprintf("e2e test %q registered twice", t.Name))
	}
	tests[t.Name] = t
}

// Names returns registered scenario names in order.
func Names() []string {
	names := make([]string, 0, len(tests))
	for name := range tests {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// List writes the scenario catalogue to w.
func List(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION")
	for _, name := range Names() {
		fmt.Fprintf(tw, "%s\t%s\n", name, tests[name].Description)
	}
	tw.Flush()
}

// Run executes the named scenarios, or all of them when names is empty,
// stopping early if ctx is cancelled.
func Run(ctx context.Context, cfg *Config, names ...string) ([]Result, error) {
	if len(names) == 0 {
		names = Names()
	}
	for _, name := range names {
		if _, ok := tests[name]; !ok {
			return nil, fmt.Errorf("unknown test %q (have %s)", name, strings.Join(Names(), ", "))
		}
	}

	results := make([]Result, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		r := runOne(ctx, cfg, tests[name])
		report(os.Stdout, r)
		results = append(results, r)
	}
	return results, nil
}

func runOne(ctx context.Context, cfg *Config, t *Test) Result {
	timeout := cfg.Timeout
	if t.Timeout > 0 {
		timeout = t.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := t.Run(ctx, cfg)
	return Result{Name: t.Name, Err: err, Duration: time.Since(start)}
}

func report(w io.Writer, r Result) {
	mark := "PASS"
	if !r.Passed() {
		mark = "FAIL"
	}
	fmt.Fprintf(w, "%s  %-22s %8s\n", mark, r.Name, r.Duration.Round(time.Millisecond))
	if r.Err != nil {
		fmt.Fprintf(w, "      %v\n", r.Err)
	}
}

// Summarize prints totals and returns the number of failures.
func Summarize(w io.Writer, results []Result) int {
	var failed []Result
	var total time.Duration
	for _, r := range results {
		total += r.Duration
		if !r.Passed() {
			failed = append(failed, r)
		}
	}

	fmt.Fprintf(w, "\n%d run, %d passed, %d failed in %s\n",
		len(results), len(results)-len(failed), len(failed), total.Round(time.Millisecond))
	for _, r := range failed {
		fmt.Fprintf(w, "  %s: %v\n", r.Name, r.Err)
	}
	return len(failed)
}

// LoadConfig resolves the quote API URL for env. E2E_QUOTE_URL wins.
func LoadConfig(env string) *Config {
	cfg := &Config{Env: env, Timeout: 30 * time.Second}

	if url := os.Getenv("E2E_QUOTE_URL"); url != "" {
		cfg.QuoteURL = url
		return cfg
	}

	switch env {
	case "dev":
		cfg.QuoteURL = "https://quotes-dev.cornjacket.com"
	case "staging":
		cfg.QuoteURL = "https://quotes-staging.cornjacket.com"
	default:
		cfg.QuoteURL = "http://localhost:8080"
	}
	return cfg
}
