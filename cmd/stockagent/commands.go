package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seenimoa/stockagent/internal/config"
	"github.com/seenimoa/stockagent/internal/dfquery"
	"github.com/seenimoa/stockagent/internal/llm"
	"github.com/seenimoa/stockagent/internal/pipeline"
	"github.com/seenimoa/stockagent/internal/shell"
	"github.com/seenimoa/stockagent/internal/store"
)

// --- Run Command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch data for a ticker, then start the interactive prompt",
	RunE:  runInteractive,
}

func init() {
	addFetchFlags(runCmd)
}

func runInteractive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sh := newShell()

	req, err := fetchRequest(cmd, sh)
	if err != nil {
		return err
	}
	st, err := store.New(cfg.Data.Dir, logger)
	if err != nil {
		return err
	}
	pl := newPipeline(st)
	out, err := pl.Run(ctx, req)
	if err != nil {
		return err
	}
	printFetchSummary(out)

	a, err := newAnalyzer(ctx, st, sh, pl, "")
	if err != nil {
		return err
	}
	return sh.Run(ctx, a)
}

// --- Fetch Command ---

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch, transform and store the tables for a ticker",
	Long: `Download price history for the ticker and the watch list, annual
financial statements, the company profile and recent news, then write the
CSV tables and the price chart to the data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := fetchRequest(cmd, newShell())
		if err != nil {
			return err
		}
		st, err := store.New(cfg.Data.Dir, logger)
		if err != nil {
			return err
		}
		pl := newPipeline(st)

		if schedule, _ := cmd.Flags().GetString("schedule"); schedule != "" {
			fmt.Printf("Refreshing %s on schedule %q (Ctrl-C to stop)\n", req.Ticker, schedule)
			return pl.Schedule(cmd.Context(), schedule, req, true)
		}
		out, err := pl.Run(cmd.Context(), req)
		if err != nil {
			return err
		}
		printFetchSummary(out)
		return nil
	},
}

func init() {
	addFetchFlags(fetchCmd)
	fetchCmd.Flags().String("schedule", "", `re-fetch on a cron schedule, e.g. "30 18 * * 1-5" or "@daily"`)
}

// fetchRequest takes the years and ticker from flags, asking for whatever
// was not given.
func fetchRequest(cmd *cobra.Command, sh *shell.Shell) (pipeline.Request, error) {
	years, _ := cmd.Flags().GetInt("years")
	ticker, _ := cmd.Flags().GetString("ticker")

	var err error
	if years <= 0 {
		if years, err = sh.AskYears(); err != nil {
			return pipeline.Request{}, err
		}
	}
	if strings.TrimSpace(ticker) == "" {
		if ticker, err = sh.AskTicker(); err != nil {
			return pipeline.Request{}, err
		}
	}
	return pipeline.Request{Ticker: ticker, Years: years}, nil
}

func printFetchSummary(out *pipeline.Output) {
	fmt.Printf("Fetched %s: %d price rows, %d financial rows, %d news articles\n",
		out.Ticker, out.PriceRows, out.Financial, out.News)
	for _, f := range out.Files {
		fmt.Printf("  wrote %s\n", f)
	}
	if out.Chart != "" {
		fmt.Printf("  chart %s\n", out.Chart)
	}
}

// --- Chat Command ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive prompt over previously fetched data",
	RunE: func(cmd *cobra.Command, args []string) error {
		ticker, _ := cmd.Flags().GetString("ticker")
		sh := newShell()
		st := store.Open(cfg.Data.Dir, logger)

		a, err := newAnalyzer(cmd.Context(), st, sh, newPipeline(st), ticker)
		if err != nil {
			return err
		}
		return sh.Run(cmd.Context(), a)
	},
}

func init() {
	chatCmd.Flags().String("ticker", "", "ticker for the news tool when metrics.csv has no symbol")
}

// --- Query Command ---

var queryCmd = &cobra.Command{
	Use:   "query <table> <expression>",
	Short: "Evaluate a table expression against a stored table",
	Long: `Evaluate a pandas-style expression over one stored table, bound to df.
With --ask the second argument is a question that the LLM turns into an
expression first.

Examples:
  stockagent query historical_prices "df['Close'].mean()"
  stockagent query financials "df[df['Statement_Type'] == 'Income'].shape"
  stockagent query metrics --ask "What is the trailing PE?"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ask, _ := cmd.Flags().GetBool("ask")
		name := tableFile(args[0])

		st := store.Open(cfg.Data.Dir, logger)
		f, err := st.ReadFrame(name)
		if err != nil {
			return err
		}

		if !ask {
			out, err := dfquery.Evaluate(f, args[1])
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		}

		provider, err := llm.NewFromConfig(cmd.Context(), cfg.LLM, logger)
		if err != nil {
			return err
		}
		engine := dfquery.NewEngine(provider, f,
			dfquery.WithName(strings.TrimSuffix(name, ".csv")),
			dfquery.WithLogger(logger),
			dfquery.WithVerbose(os.Stdout),
		)
		out, err := engine.Query(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	queryCmd.Flags().Bool("ask", false, "treat the second argument as a natural-language question")
}

// tableFile maps "historical_prices" and "historical_prices.csv" to the
// stored file name.
func tableFile(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if !strings.HasSuffix(name, ".csv") {
		name += ".csv"
	}
	return name
}

// --- Config Command ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML (API keys masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, stored tables and API key status",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  stockagent — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    LLM Provider:  %s (model: %s)\n", cfg.LLM.Primary, cfg.LLM.Model)
		if len(cfg.LLM.Fallbacks) > 0 {
			fmt.Printf("    Fallbacks:     %s\n", strings.Join(cfg.LLM.Fallbacks, ", "))
		}
		fmt.Printf("    Watch list:    %s\n", strings.Join(cfg.Market.Tickers, " "))
		fmt.Printf("    Data dir:      %s\n", cfg.Data.Dir)
		fmt.Printf("    Max iter:      %d (top_k %d)\n", cfg.Agent.MaxIterations, cfg.Agent.TopK)
		fmt.Println()

		fmt.Println("  Tables:")
		st := store.Open(cfg.Data.Dir, logger)
		for _, name := range []string{store.AllPrices, store.HistoricalPrices, store.Financials, store.Info, store.Metrics, store.News} {
			mark := "❌ missing"
			if st.Exists(name) {
				mark = "✅ present"
			}
			fmt.Printf("    %-25s %s\n", name, mark)
		}
		fmt.Println()

		fmt.Println("  API Keys:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		if ping, _ := cmd.Flags().GetBool("ping"); ping {
			fmt.Println()
			fmt.Println("  LLM Providers:")
			printProviderHealth(cmd.Context())
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("ping", false, "check that every configured LLM provider answers")
}

// printProviderHealth pings the primary provider and, when fallbacks are
// configured, each one behind the router.
func printProviderHealth(ctx context.Context) {
	provider, err := llm.NewFromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		fmt.Printf("    %-25s ❌ %v\n", cfg.LLM.Primary+":", err)
		return
	}
	var results map[string]error
	if router, ok := provider.(*llm.Router); ok {
		results = router.HealthCheck(ctx)
	} else {
		results = map[string]error{provider.Name(): provider.Ping(ctx)}
	}
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		status := "✅ reachable"
		if err := results[name]; err != nil {
			status = "❌ " + err.Error()
		}
		fmt.Printf("    %-25s %s\n", name+":", status)
	}
}
