package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/gitlab-flows/internal/app"
	"github.com/kurihiro0119/gitlab-flows/internal/artifacts"
	"github.com/kurihiro0119/gitlab-flows/internal/config"
	"github.com/kurihiro0119/gitlab-flows/internal/domain"
	"github.com/kurihiro0119/gitlab-flows/internal/flows"
	"github.com/kurihiro0119/gitlab-flows/internal/flows/pulse"
	"github.com/kurihiro0119/gitlab-flows/internal/flows/review"
	"github.com/kurihiro0119/gitlab-flows/internal/mcpserver"
	"github.com/kurihiro0119/gitlab-flows/pkg/client"
)

var (
	cfgFile      string
	outputJSON   bool
	logLevel     string
	historyFlow  string
	historyLimit int
	remote       bool
)

var rootCmd = &cobra.Command{
	Use:   "gitlab-flows",
	Short: "GitLab automation flows",
	Long: `A CLI tool for running GitLab automation flows.

Flows collect data from the GitLab REST API, write JSON artifacts to disk
and hand them to the crush CLI for summarization. The same flows are
exposed as tools over MCP (stdio) and over the HTTP API.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run [flow] [args...]",
	Short: "Run a registered flow",
	Long:  `Run a flow by name. Remaining arguments are passed to the flow.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFlow,
}

var pulseCmd = &cobra.Command{
	Use:   "pulse [date]",
	Short: "Run the weekly pulse",
	Long:  `Collect one ISO week of activity for the configured groups and summarize it. The date (YYYY-MM-DD) picks the week; it defaults to today.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPulse,
}

var reviewCmd = &cobra.Command{
	Use:   "review [merge-request-url]",
	Short: "Review a merge request",
	Long:  `Fetch a merge request, diff it locally and write an AI review next to the raw artifacts.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runReview,
}

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "List registered flows",
	Args:  cobra.NoArgs,
	RunE:  runListFlows,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs",
	Long:  `List indexed runs, newest first. Requires STORAGE_TYPE sqlite or postgres, or --remote to ask the API server.`,
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the flows as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file: .yaml/.yml overlay or dotenv file (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error); overrides LOG_LEVEL")

	historyCmd.Flags().StringVar(&historyFlow, "flow", "", "only show runs of this flow")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs")
	historyCmd.Flags().BoolVar(&remote, "remote", false, "read history from the API server at API_ENDPOINT")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pulseCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(flowsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}
	return cfg, app.NewLogger(os.Stderr, cfg.LogLevel, false), nil
}

func loadApp() (*app.App, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, logger)
}

func dispatch(name string, args []string) (*flows.Result, error) {
	a, err := loadApp()
	if err != nil {
		return nil, err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return a.Registry.Dispatch(ctx, name, args)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runFlow(cmd *cobra.Command, args []string) error {
	res, err := dispatch(args[0], args[1:])
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(res)
	}
	printArtifacts(res)
	return nil
}

func printArtifacts(res *flows.Result) {
	fmt.Printf("\nFlow: %s\n", res.Flow)
	fmt.Printf("Log: %s\n\n", res.LogPath)

	keys := make([]string, 0, len(res.Artifacts))
	for k := range res.Artifacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Artifact", "Path"})
	for _, k := range keys {
		table.Append([]string{k, res.Artifacts[k]})
	}
	table.Render()
}

type groupRow struct {
	Group string             `json:"group"`
	Dir   string             `json:"dir"`
	Stats *domain.GroupStats `json:"stats"`
}

// pulseGroups lists group output dirs in the order the run processed them.
func pulseGroups(res *flows.Result) []groupRow {
	var names []string
	if res.Record != nil {
		names, _ = res.Record.Inputs["groups"].([]string)
	}
	var rows []groupRow
	for _, name := range names {
		dir := res.Artifact(pulse.ArtifactGroupPrefix + artifacts.Slugify(name))
		if dir == "" {
			continue
		}
		rows = append(rows, groupRow{Group: name, Dir: dir})
	}
	return rows
}

func runPulse(cmd *cobra.Command, args []string) error {
	res, err := dispatch(pulse.FlowName, args)
	if err != nil {
		return err
	}

	var groups []groupRow
	for _, row := range pulseGroups(res) {
		stats, err := pulse.LoadStats(row.Dir)
		if err != nil {
			return fmt.Errorf("failed to read stats for %s: %w", row.Group, err)
		}
		row.Stats = stats
		groups = append(groups, row)
	}

	if outputJSON {
		return printJSON(map[string]any{
			"out_dir":         res.Artifact(pulse.ArtifactOutDir),
			"overall_summary": res.Artifact(pulse.ArtifactOverallSummary),
			"log_path":        res.LogPath,
			"groups":          groups,
		})
	}

	fmt.Printf("\nWeekly Pulse: %s\n", res.Artifact(pulse.ArtifactOutDir))
	fmt.Printf("Overall summary: %s\n\n", res.Artifact(pulse.ArtifactOverallSummary))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Group", "Commits", "Top Author", "Pipelines", "Failed", "Issues", "MRs Updated", "MRs Merged"})
	for _, g := range groups {
		top := "-"
		if len(g.Stats.Commits.Authors) > 0 {
			top = g.Stats.Commits.Authors[0].Name
		}
		table.Append([]string{
			g.Group,
			strconv.Itoa(g.Stats.Commits.Count),
			top,
			strconv.Itoa(g.Stats.Pipelines.Count),
			strconv.Itoa(g.Stats.Pipelines.Failed),
			strconv.Itoa(g.Stats.Issues.OpenOrUpdated),
			strconv.Itoa(g.Stats.MergeRequests.Updated),
			strconv.Itoa(g.Stats.MergeRequests.Merged),
		})
	}
	table.Render()

	return nil
}

func runReview(cmd *cobra.Command, args []string) error {
	res, err := dispatch(review.FlowName, args)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(res)
	}

	printArtifacts(res)
	if res.Record != nil {
		if summary, ok := res.Record.Outputs["summary"].(string); ok && summary != "" {
			fmt.Printf("\n%s\n", summary)
		}
	}
	return nil
}

func runListFlows(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	names := a.Registry.Names()
	if outputJSON {
		return printJSON(names)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Flow"})
	for _, name := range names {
		table.Append([]string{name})
	}
	table.Render()
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	var runs []*domain.RunSummary

	if remote {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		runs, err = client.NewClient(cfg.APIEndpoint, 30*time.Second).ListRuns(historyFlow, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
	} else {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Store == nil {
			return fmt.Errorf("run history is disabled: set STORAGE_TYPE to sqlite or postgres")
		}
		runs, err = a.Store.ListRuns(context.Background(), historyFlow, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
	}

	if outputJSON {
		return printJSON(runs)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Run", "Flow", "Time", "Status", "Path"})
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.Flow,
			r.Timestamp.Local().Format("2006-01-02 15:04:05"),
			r.Status,
			r.Path,
		})
	}
	table.Render()
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	a.Logger.Info().Str("server", a.Bridge.String()).Msg("serving MCP over stdio")
	return mcpserver.Serve(a.Bridge, a.Logger)
}
