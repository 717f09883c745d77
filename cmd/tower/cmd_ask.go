package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"controltower/internal/orchestrator"
	"controltower/internal/resolve"
	"controltower/internal/router"
	"controltower/internal/synthesis"
)

var askJSON bool

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against the supply chain database",
	Long: `Answers a natural-language question with cited findings. With no
argument an interactive prompt starts; entity names that cannot be resolved
confidently are confirmed before anything runs, and confirmations persist
for the rest of the session.

Examples:
  tower ask "What is the current stock of LOT-14364098?"
  tower ask "Can we extend the shelf-life of LOT-14364098 for Germany?"`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "emit raw JSON instead of formatted text")
}

func runAsk(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	if len(args) > 0 {
		return askOnce(cmd.Context(), p, strings.Join(args, " "), nil)
	}

	fmt.Println("Clinical supply control tower. Type a question, or \"exit\" to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := askOnce(cmd.Context(), p, line, scanner); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
}

// askOnce routes and executes one question. When a resolution needs
// confirmation and a scanner is available, the user picks interactively and
// the question re-runs with the confirmed mapping in session memory.
func askOnce(ctx context.Context, p *pipeline, question string, scanner *bufio.Scanner) error {
	route := router.Classify(question)

	for {
		outcome, err := p.orch.Execute(ctx, route)
		if err != nil {
			return err
		}

		if outcome.Clarify != "" && outcome.NeedsConfirmation == nil {
			fmt.Println(outcome.Clarify)
			return nil
		}
		if cand := outcome.NeedsConfirmation; cand != nil {
			if scanner == nil {
				fmt.Println(outcome.Clarify)
				return nil
			}
			if !confirmInteractively(p, cand, scanner) {
				return nil
			}
			continue // session override now applies
		}
		return render(question, route, outcome)
	}
}

// confirmInteractively asks the user to pick among the resolver's
// alternatives and records the selection in session memory.
func confirmInteractively(p *pipeline, cand *resolve.Candidate, scanner *bufio.Scanner) bool {
	options := cand.Alternatives
	if cand.Canonical != "" {
		options = append([]string{cand.Canonical}, options...)
	}
	if len(options) == 0 {
		fmt.Printf("No %s matching %q is on record.\n", cand.Kind, cand.RawInput)
		return false
	}

	fmt.Printf("%q did not match confidently. Did you mean:\n", cand.RawInput)
	for i, opt := range options {
		fmt.Printf("  %d) %s\n", i+1, opt)
	}
	fmt.Print("Select a number (or press enter to cancel): ")
	if !scanner.Scan() {
		return false
	}
	choice := strings.TrimSpace(scanner.Text())
	if choice == "" {
		return false
	}
	var n int
	if _, err := fmt.Sscanf(choice, "%d", &n); err != nil || n < 1 || n > len(options) {
		fmt.Println("No selection applied.")
		return false
	}
	p.resolver.Confirm(cand.RawInput, options[n-1], cand.Kind)
	fmt.Printf("Confirmed %s = %s for this session.\n", cand.RawInput, options[n-1])
	return true
}

// render prints the outcome in the shape appropriate to the route.
func render(question string, route router.Route, outcome *orchestrator.Outcome) error {
	switch {
	case route.Mode == router.ModeAutonomous:
		report := synthesis.BuildWatchReport(time.Now().UTC(), outcome.Findings)
		return printJSON(report)

	case route.Subkind == router.SubkindExtension:
		batch := outcome.Entities["batch"]
		country := outcome.Entities["country"]
		assessment := synthesis.AssessExtension(batch, country, outcome.Findings, outcome.Incomplete)
		if askJSON {
			return printJSON(assessment)
		}
		printAssessment(assessment)
		return nil

	default:
		verdict := synthesis.AnswerVerdict(outcome.Findings, outcome.Incomplete)
		valid, flagged := synthesis.Validate(outcome.Findings)
		conflicts := synthesis.DetectConflicts(valid)
		answer := map[string]any{
			"question": question,
			"verdict":  verdict,
			"findings": valid,
		}
		if len(conflicts) > 0 {
			answer["conflicts"] = conflicts
		}
		if len(flagged) > 0 {
			answer["flagged_findings"] = flagged
		}
		if len(outcome.Incomplete) > 0 {
			answer["incomplete_checks"] = synthesis.SortedIncomplete(outcome.Incomplete)
		}
		return printJSON(answer)
	}
}

func printAssessment(a synthesis.Assessment) {
	fmt.Printf("\n%s\n\nAnswer: %s\n\n", strings.ToUpper(a.Question), a.Verdict)
	for _, c := range a.Checks {
		fmt.Printf("%s check: %s\n  %s\n  Source: %s\n", title(c.Name), c.Status, c.Detail, c.Source)
	}
	if len(a.Conflicts) > 0 {
		fmt.Println("\nConflicting data found:")
		for _, c := range a.Conflicts {
			fmt.Printf("  %s:\n", c.Key)
			for _, v := range c.Values {
				fmt.Printf("    %s (as of %s, %s)\n", v.Value, v.AsOf.Format("2006-01-02"), v.Citations[0].Source)
			}
		}
	}
	fmt.Printf("\nRecommendation: %s\n", a.Recommendation)
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
