// hedgeaudit reports on the hedge store written by a married put backtest.
// It checks every stored hedge against its state invariants and summarises
// how the protective puts were closed.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/feyerinaGO/OptimalInvesting/internal/config"
	"github.com/feyerinaGO/OptimalInvesting/internal/models"
	"github.com/feyerinaGO/OptimalInvesting/internal/storage"
)

// Audit is the machine-readable result of one audit.
type Audit struct {
	Path        string              `json:"path"`
	Open        []string            `json:"open"`
	Closed      int                 `json:"closed"`
	Errored     int                 `json:"errored"`
	ExitReasons map[string]int      `json:"exit_reasons"`
	Invalid     []string            `json:"invalid,omitempty"`
	Statistics  *storage.Statistics `json:"statistics"`
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		storePath  = flag.String("store", "", "Hedge store to audit (defaults to storage.path from the config)")
		jsonOutput = flag.Bool("json", false, "Output results as JSON")
	)
	flag.Parse()

	path := *storePath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		path = cfg.Storage.Path
	}

	if _, err := os.Stat(path); err != nil {
		log.Fatalf("Hedge store not readable: %v", err)
	}
	store, err := storage.NewJSONStorage(path)
	if err != nil {
		log.Fatalf("Failed to open hedge store: %v", err)
	}

	audit := runAudit(path, store)

	if *jsonOutput {
		output, err := json.MarshalIndent(audit, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal JSON: %v", err)
		}
		fmt.Println(string(output))
		return
	}

	printAudit(audit)
	fmt.Printf("=== ANALYSIS ===\n")
	issues := analyzeAudit(audit)
	if len(issues) == 0 {
		fmt.Printf("No obvious issues detected.\n")
		return
	}
	fmt.Printf("POTENTIAL ISSUES FOUND:\n")
	for i, issue := range issues {
		fmt.Printf("  %d. %s\n", i+1, issue)
	}
}

func runAudit(path string, store storage.Interface) *Audit {
	audit := &Audit{
		Path:        path,
		Open:        []string{},
		ExitReasons: make(map[string]int),
		Statistics:  store.GetStatistics(),
	}

	for _, h := range store.GetOpenHedges() {
		audit.Open = append(audit.Open, h.Symbol)
		if err := h.ValidateState(); err != nil {
			audit.Invalid = append(audit.Invalid, err.Error())
		}
	}
	for _, h := range store.GetHistory() {
		switch h.State {
		case models.StateError:
			audit.Errored++
		case models.StateClosed:
			audit.Closed++
			audit.ExitReasons[h.ExitReason]++
		}
		if err := h.ValidateState(); err != nil {
			audit.Invalid = append(audit.Invalid, err.Error())
		}
	}
	sort.Strings(audit.Open)
	return audit
}

func printAudit(a *Audit) {
	fmt.Printf("=== HEDGE AUDIT: %s ===\n", a.Path)
	fmt.Printf("Open hedges:    %d\n", len(a.Open))
	for _, sym := range a.Open {
		fmt.Printf("  %s\n", sym)
	}
	fmt.Printf("Closed hedges:  %d\n", a.Closed)
	reasons := make([]string, 0, len(a.ExitReasons))
	for r := range a.ExitReasons {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Printf("  %-14s %d\n", r, a.ExitReasons[r])
	}
	fmt.Printf("Errored orders: %d\n", a.Errored)
	if s := a.Statistics; s != nil {
		fmt.Printf("Total P&L:      $%.2f on $%.2f premium\n", s.TotalPnL, s.TotalPremium)
		fmt.Printf("Win rate:       %.1f%% (%d/%d)\n", s.WinRate, s.WinningHedges, s.TotalHedges)
	}
	fmt.Printf("\n")
}

// analyzeAudit flags states a finished backtest should not leave behind.
func analyzeAudit(a *Audit) []string {
	var issues []string
	if a == nil {
		return issues
	}

	if len(a.Open) > 0 {
		issues = append(issues, fmt.Sprintf("%d hedge(s) still open - the run may have been interrupted before the final close", len(a.Open)))
	}
	if a.Errored > 0 {
		issues = append(issues, fmt.Sprintf("%d put order(s) were rejected", a.Errored))
	}
	for _, msg := range a.Invalid {
		issues = append(issues, "Inconsistent hedge: "+msg)
	}
	if a.Statistics != nil && a.Statistics.TotalHedges != a.Closed {
		issues = append(issues, fmt.Sprintf("Statistics count %d hedges but history holds %d closed", a.Statistics.TotalHedges, a.Closed))
	}
	return issues
}
