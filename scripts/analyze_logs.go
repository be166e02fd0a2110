// Standalone log analyzer: summarizes a day's webhook, provider and ledger
// activity from the file loggers. Run with: go run scripts/analyze_logs.go
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

type LogStats struct {
	TotalErrors        int
	TotalWarnings      int
	DuplicateDrops     int
	QueueDrops         int
	ProviderFailures   int
	ReconcilerSettles  int
	ReconcilerFailures int
	OpsAlerts          int
	PINLockouts        int
	SignatureRejects   int
	RequestStatuses    map[string]int
	ErrorPatterns      map[string]int
}

var (
	requestRegex = regexp.MustCompile(`Request: (\w+) \S+ from \S+ - Status: (\d+)`)
	refRegex     = regexp.MustCompile(`\b[A-Z]{2}_\d{14}_[0-9a-f]{8}\b`)
)

func main() {
	today := time.Now().Format("2006-01-02")
	logDir := "./logs"

	stats := &LogStats{
		RequestStatuses: make(map[string]int),
		ErrorPatterns:   make(map[string]int),
	}

	scanFile(filepath.Join(logDir, fmt.Sprintf("error-%s.log", today)), stats, true)
	scanFile(filepath.Join(logDir, fmt.Sprintf("warn-%s.log", today)), stats, false)
	scanFile(filepath.Join(logDir, fmt.Sprintf("info-%s.log", today)), stats, false)

	printReport(stats)
}

func scanFile(logFile string, stats *LogStats, isError bool) {
	file, err := os.Open(logFile)
	if err != nil {
		fmt.Printf("Skipping %s: %v\n", logFile, err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()

		if isError {
			stats.TotalErrors++
			classifyError(line, stats)
		}
		if strings.HasPrefix(line, "WARN:") {
			stats.TotalWarnings++
		}

		switch {
		case strings.Contains(line, "Duplicate delivery"):
			stats.DuplicateDrops++
		case strings.Contains(line, "Dropping message"):
			stats.QueueDrops++
		case strings.Contains(line, "Provider attempt"):
			stats.ProviderFailures++
		case strings.Contains(line, "Reconciler: settled"):
			stats.ReconcilerSettles++
		case strings.Contains(line, "Reconciler: failed"):
			stats.ReconcilerFailures++
		case strings.Contains(line, "unresolved for"):
			stats.OpsAlerts++
		case strings.Contains(line, "PIN locked for user"):
			stats.PINLockouts++
		case strings.Contains(line, "Webhook signature rejected"):
			stats.SignatureRejects++
		}

		if m := requestRegex.FindStringSubmatch(line); m != nil {
			stats.RequestStatuses[m[2]]++
		}
	}
}

func classifyError(line string, stats *LogStats) {
	// Group by message shape with references stripped, so one stuck
	// transaction doesn't look like a hundred distinct errors.
	idx := strings.Index(line, "ERROR: ")
	if idx < 0 {
		return
	}
	msg := line[idx+len("ERROR: "):]
	if colon := strings.Index(msg, ": "); colon > 0 {
		msg = msg[:colon]
	}
	msg = refRegex.ReplaceAllString(msg, "<ref>")
	stats.ErrorPatterns[msg]++
}

func printReport(stats *LogStats) {
	fmt.Println("=== KudiPal Daily Log Report ===")
	fmt.Printf("Errors:               %d\n", stats.TotalErrors)
	fmt.Printf("Warnings:             %d\n", stats.TotalWarnings)
	fmt.Printf("Duplicate deliveries: %d\n", stats.DuplicateDrops)
	fmt.Printf("Queue-full drops:     %d\n", stats.QueueDrops)
	fmt.Printf("Provider retries:     %d\n", stats.ProviderFailures)
	fmt.Printf("Reconciler settles:   %d\n", stats.ReconcilerSettles)
	fmt.Printf("Reconciler failures:  %d\n", stats.ReconcilerFailures)
	fmt.Printf("Ops alerts:           %d\n", stats.OpsAlerts)
	fmt.Printf("PIN lockouts:         %d\n", stats.PINLockouts)
	fmt.Printf("Signature rejects:    %d\n", stats.SignatureRejects)

	if len(stats.RequestStatuses) > 0 {
		fmt.Println("\nHTTP statuses:")
		statuses := make([]string, 0, len(stats.RequestStatuses))
		for status := range stats.RequestStatuses {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			fmt.Printf("  %s: %d\n", status, stats.RequestStatuses[status])
		}
	}

	if len(stats.ErrorPatterns) > 0 {
		fmt.Println("\nTop error patterns:")
		type pattern struct {
			msg   string
			count int
		}
		patterns := make([]pattern, 0, len(stats.ErrorPatterns))
		for msg, count := range stats.ErrorPatterns {
			patterns = append(patterns, pattern{msg, count})
		}
		sort.Slice(patterns, func(i, j int) bool { return patterns[i].count > patterns[j].count })
		for i, p := range patterns {
			if i == 10 {
				break
			}
			fmt.Printf("  %4d  %s\n", p.count, p.msg)
		}
	}
}
