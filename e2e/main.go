// Command e2e runs end-to-end quote scenarios against a live deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cornjacket/quote-service/e2e/client"
	"github.com/cornjacket/quote-service/e2e/runner"
	_ "github.com/cornjacket/quote-service/e2e/tests" // registers scenarios
)

func main() {
	env := flag.String("env", "local", "environment: local, dev, staging")
	only := flag.String("test", "", "comma-separated scenarios to run (default all)")
	list := flag.Bool("list", false, "list scenarios and exit")
	flag.Parse()

	if *list {
		runner.List(os.Stdout)
		return
	}

	cfg := runner.LoadConfig(*env)
	fmt.Printf("quote e2e  env=%s  api=%s\n\n", cfg.Env, cfg.QuoteURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.CheckHealth(ctx, cfg.QuoteURL); err != nil {
		fmt.Fprintf(os.Stderr, "quote service not healthy: %v\n", err)
		os.Exit(1)
	}

	var names []string
	if *only != "" {
		names = strings.Split(*only, ",")
	}

	results, err := runner.Run(ctx, cfg, names...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if runner.Summarize(os.Stdout, results) > 0 {
		os.Exit(1)
	}
}
