package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/specforge/internal/config"
	"github.com/kalambet/specforge/internal/learning"
	"github.com/kalambet/specforge/internal/patterns"
	"github.com/kalambet/specforge/internal/planner"
	"github.com/kalambet/specforge/internal/progress"
)

// --- plan ---

type planResponse struct {
	SessionID string         `json:"sessionId"`
	Plan      planner.Plan   `json:"plan"`
	State     progress.State `json:"state"`
}

var planCmd = &cobra.Command{
	Use:   "plan <idea>",
	Short: "Plan the intake questions for a project idea",
	Long: `Plan the intake questions for a project idea and open a session for it.

Examples:
  specforge plan "learn React by building a to-do app"
  specforge plan --json "a mobile app for tracking habits"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		idea := strings.TrimSpace(strings.Join(args, " "))
		if idea == "" {
			return fmt.Errorf("an idea is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Planning questions...")
		resp, err := client.post(cmd.Context(), "/plan", map[string]string{"userInput": idea})
		if err != nil {
			return err
		}
		var result planResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if asJSON {
			return printJSON(result)
		}
		printPlan(result)
		return nil
	},
}

func printPlan(r planResponse) {
	p := r.Plan
	fmt.Fprintf(stdout, "%s %s\n", colorize(colorBold, "Summary:"), p.Analysis.UserInputSummary)
	fmt.Fprintf(stdout, "%s %s\n\n", colorize(colorBold, "Confidence:"), p.Analysis.ConfidenceLevel)

	for _, it := range p.QuestionPlan {
		text := it.AdaptedText
		if text == "" {
			text = it.Template.Text
		}
		status := fmt.Sprintf("[%s]", it.Status)
		if it.Status == progress.PlanSkip {
			status = colorize(colorDim, status)
		} else {
			status = colorize(colorCyan, status)
		}
		fmt.Fprintf(stdout, "%2d. %-10s %s  %s\n", it.ProgressMetadata.SequenceNumber, status, it.QuestionID, text)
		if len(it.PreSelectedOptions) > 0 {
			fmt.Fprintf(stdout, "    preselected: %s\n", strings.Join(it.PreSelectedOptions, ", "))
		}
	}

	fmt.Fprintln(stdout)
	printStatus("Questions to ask", "%d", p.TotalQuestions)
	printStatus("Estimated time", "%s", p.EstimatedTime)
	printStatus("Overall completion", "%.0f%%", r.State.OverallCompletion)
	printSuccess("Session %s", r.SessionID)
}

func init() {
	planCmd.Flags().Bool("json", false, "print the full plan and session state as JSON")
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Inspect learned preferences",
}

var prefsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learned preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/preferences")
		if err != nil {
			return err
		}
		var prefs []learning.LearnedPreference
		if err := decodeJSON(resp, &prefs); err != nil {
			return err
		}

		if asJSON {
			return printJSON(prefs)
		}
		if len(prefs) == 0 {
			printWarning("No learned preferences yet")
			return nil
		}
		for _, p := range prefs {
			fmt.Fprintf(stdout, "%s  %-10s %s\n", colorize(colorDim, p.ID), p.Type, p.Description)
		}
		return nil
	},
}

var prefsContextCmd = &cobra.Command{
	Use:   "context",
	Short: "Print learned preferences as they are given to the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/preferences/context")
		if err != nil {
			return err
		}
		var result struct {
			Count   int    `json:"count"`
			Context string `json:"context"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if result.Count == 0 {
			printWarning("No learned preferences yet")
			return nil
		}
		fmt.Fprint(stdout, result.Context)
		return nil
	},
}

func init() {
	prefsListCmd.Flags().Bool("json", false, "print as JSON")
	prefsCmd.AddCommand(prefsListCmd)
	prefsCmd.AddCommand(prefsContextCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the task history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent tasks and whether their suggestions were accepted",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/history")
		if err != nil {
			return err
		}
		var hist []learning.TaskHistory
		if err := decodeJSON(resp, &hist); err != nil {
			return err
		}
		if len(hist) == 0 {
			printWarning("No task history yet")
			return nil
		}

		if limit > 0 && len(hist) > limit {
			hist = hist[len(hist)-limit:]
		}
		for _, h := range hist {
			outcome := colorize(colorGreen, "accepted")
			if !h.Accepted {
				outcome = colorize(colorYellow, "corrected")
				if h.Correction != nil {
					outcome += " (" + string(h.Correction.CorrectionType) + ")"
				}
			}
			fmt.Fprintf(stdout, "%s  %s  %s\n", colorize(colorDim, h.Task.ID), outcome, h.Task.Description)
		}
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "show only the most recent N entries (0 for all)")
	historyCmd.AddCommand(historyListCmd)
}

// --- patterns ---

type patternsResponse struct {
	Success  bool                    `json:"success"`
	Count    int                     `json:"count"`
	Patterns []patterns.SearchResult `json:"patterns"`
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect and maintain learned security patterns",
}

func printPatterns(res []patterns.SearchResult, withSimilarity bool) {
	for _, p := range res {
		score := fmt.Sprintf("conf %.2f", p.Confidence)
		if withSimilarity {
			score = fmt.Sprintf("sim %.2f", p.Similarity)
		}
		fmt.Fprintf(stdout, "%s  %-9s %s  %s (seen %d)\n",
			colorize(colorDim, p.ID), p.PatternType, score, p.Name, p.ObservationCount)
	}
}

func patternQuery(cmd *cobra.Command) url.Values {
	q := url.Values{}
	if t, _ := cmd.Flags().GetString("type"); t != "" {
		q.Set("type", t)
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored patterns, most confident first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := patternQuery(cmd)
		if mc, _ := cmd.Flags().GetFloat64("min-confidence"); mc > 0 {
			q.Set("minConfidence", strconv.FormatFloat(mc, 'f', -1, 64))
		}
		return fetchPatterns(cmd, q, false)
	},
}

var patternsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantically search stored patterns",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := patternQuery(cmd)
		q.Set("search", strings.Join(args, " "))
		if ms, _ := cmd.Flags().GetFloat64("min-similarity"); ms > 0 {
			q.Set("minSimilarity", strconv.FormatFloat(ms, 'f', -1, 64))
		}
		return fetchPatterns(cmd, q, true)
	},
}

func fetchPatterns(cmd *cobra.Command, q url.Values, withSimilarity bool) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	path := "/patterns"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	resp, err := client.get(cmd.Context(), path)
	if err != nil {
		return err
	}
	var result patternsResponse
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	if asJSON {
		return printJSON(result.Patterns)
	}
	if result.Count == 0 {
		printWarning("No matching patterns")
		return nil
	}
	printPatterns(result.Patterns, withSimilarity)
	return nil
}

var patternsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one pattern as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/patterns/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var p patterns.Pattern
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		return printJSON(p)
	},
}

var patternsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete patterns that have no embedding",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes every pattern without an embedding. Run `patterns backfill` first, or use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/patterns")
		if err != nil {
			return err
		}
		var result patterns.CleanupResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %d patterns, %d remaining", result.Deleted, result.Remaining)
		return nil
	},
}

var patternsBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Embed stored patterns that have no embedding yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/patterns/backfill", nil)
		if err != nil {
			return err
		}
		var result struct {
			Embedded int `json:"embedded"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Embedded %d patterns", result.Embedded)
		return nil
	},
}

var patternsSampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Run pattern extraction on the bundled before/after sample",
	RunE: func(cmd *cobra.Command, args []string) error {
		save, _ := cmd.Flags().GetBool("save")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/patterns/sample"
		if save {
			path += "?save=true"
		}
		printStep("Extracting patterns from sample diff...")
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var result patterns.Extraction
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printStatus("Diff", "+%d -%d lines", result.Diff.AddedLines, result.Diff.RemovedLines)
		printStatus("Extracted", "%d patterns", len(result.ExtractedPatterns))
		if err := printJSON(result.ExtractedPatterns); err != nil {
			return err
		}
		if save {
			printSuccess("Saved %d patterns", len(result.Saved))
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{patternsListCmd, patternsSearchCmd} {
		c.Flags().String("type", "", "restrict to one pattern type (security, component, ...)")
		c.Flags().Int("limit", 0, "maximum number of patterns (server default when 0)")
		c.Flags().Bool("json", false, "print as JSON")
	}
	patternsListCmd.Flags().Float64("min-confidence", 0, "only patterns at or above this confidence")
	patternsSearchCmd.Flags().Float64("min-similarity", 0, "similarity floor (server default when 0)")
	patternsCleanupCmd.Flags().Bool("confirm", false, "confirm deletion")
	patternsSampleCmd.Flags().Bool("save", false, "store the extracted patterns")

	patternsCmd.AddCommand(patternsListCmd)
	patternsCmd.AddCommand(patternsSearchCmd)
	patternsCmd.AddCommand(patternsShowCmd)
	patternsCmd.AddCommand(patternsCleanupCmd)
	patternsCmd.AddCommand(patternsBackfillCmd)
	patternsCmd.AddCommand(patternsSampleCmd)
}

// --- db ---

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Primary database status and schema",
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the primary database",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/db/status")
		if err != nil {
			return err
		}
		var st learning.Status
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		switch {
		case st.Connected:
			printSuccess("%s", st.Message)
		case st.Configured:
			printError("%s", st.Message)
		default:
			printWarning("%s", st.Message)
		}
		return nil
	},
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the primary database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/db/init", nil)
		if err != nil {
			return err
		}
		var result struct {
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("%s", result.Message)
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbInitCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file. Valid keys: " +
		strings.Join(config.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
