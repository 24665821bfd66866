package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ghalamif/AegisIsolate"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "policy":
		err = policyCommand(os.Args[2:])
	case "units":
		err = unitsCommand(os.Args[2:])
	case "submit":
		err = submitCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("aegis-isolate %s: %v", cmd, err)
	}
}

// loadConfig reads path when it exists and falls back to the environment-only
// defaults otherwise.
func loadConfig(path string) (*aegisisolate.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return aegisisolate.DefaultConfig(), nil
	}
	return aegisisolate.LoadConfig(path)
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to isolation configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	flow, err := aegisisolate.ConfFromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := aegisisolate.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

// policyCommand resolves the policy exactly as run would, without starting
// collectors, the journal or the HTTP server.
func policyCommand(args []string) error {
	fs := flag.NewFlagSet("policy", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to isolation configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Journal.Timescale.ConnString = ""
	cfg.Journal.SQLite.Path = ""
	cfg.Collectors.Feed.Path = ""
	cfg.Collectors.OPCUA.Endpoint = ""
	cfg.Log.Level = "error"

	eng, err := aegisisolate.NewEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Shutdown(context.Background())

	pol := eng.Policy()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "enabled\t%v\n", eng.Enabled())
	fmt.Fprintf(tw, "units\t%d\n", len(eng.Units()))
	fmt.Fprintf(tw, "ce_threshold\t%d\n", pol.Threshold)
	fmt.Fprintf(tw, "isolation_limit\t%d\n", pol.IsolationLimit)
	fmt.Fprintf(tw, "cycle\t%s\n", pol.Cycle)
	return tw.Flush()
}

func unitsCommand(args []string) error {
	fs := flag.NewFlagSet("units", flag.ExitOnError)
	addr := fs.String("url", "http://localhost:9100", "Base URL of a running engine")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := http.Get(strings.TrimRight(*addr, "/") + "/units")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var units []aegisisolate.UnitSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&units); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tSTATE\tCE\tUCE\tWINDOW")
	for _, u := range units {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\n", u.ID, u.State, u.CorrectedTotal, u.UncorrectedTotal, u.WindowSamples)
	}
	return tw.Flush()
}

func submitCommand(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	addr := fs.String("url", "http://localhost:9100", "Base URL of a running engine")
	unit := fs.Int("unit", -1, "Processing unit the error is attributed to")
	kind := fs.String("kind", "corrected", "Error kind: corrected or uncorrected")
	magnitude := fs.Uint64("magnitude", 1, "Corrected error count carried by this report")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var k aegisisolate.ErrorKind
	if err := k.UnmarshalText([]byte(*kind)); err != nil {
		return err
	}
	body, err := json.Marshal(aegisisolate.ClassifiedError{
		UnitID:    *unit,
		Kind:      k,
		Magnitude: *magnitude,
		Time:      time.Now(),
		Source:    "cli",
	})
	if err != nil {
		return err
	}

	resp, err := http.Post(strings.TrimRight(*addr, "/")+"/errors", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		Outcome string `json:"outcome"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out.Error != "" {
		return fmt.Errorf("%s: %s", out.Outcome, out.Error)
	}
	fmt.Printf("unit %d: %s\n", *unit, out.Outcome)
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var statsTargets = []string{
	ports.MetricErrorsRecorded,
	ports.MetricGuardBlocked,
	ports.MetricOfflineSucceeded,
	ports.MetricOfflineFailed,
	ports.MetricUnitsOffline,
	ports.MetricQueueLength,
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values, err := scanMetrics(bufio.NewScanner(resp.Body), statsTargets)
	if err != nil {
		return err
	}

	fmt.Printf("[%s] errors=%.0f guarded=%.0f offlined=%.0f failed=%.0f offline_now=%.0f journal_queue=%.0f\n",
		time.Now().Format(time.RFC3339),
		values[ports.MetricErrorsRecorded],
		values[ports.MetricGuardBlocked],
		values[ports.MetricOfflineSucceeded],
		values[ports.MetricOfflineFailed],
		values[ports.MetricUnitsOffline],
		values[ports.MetricQueueLength],
	)
	return nil
}

// scanMetrics picks unlabelled samples for keys out of the Prometheus text format.
func scanMetrics(scanner *bufio.Scanner, keys []string) (map[string]float64, error) {
	values := make(map[string]float64, len(keys))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range keys {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					values[key] = value
				}
			}
		}
	}
	return values, scanner.Err()
}

func printUsage() {
	fmt.Printf(`AegisIsolate CLI

Usage:
  aegis-isolate <command> [flags]

Commands:
  run        Start the isolation engine using the provided config
  validate   Load and validate a config file without starting the engine
  policy     Print the policy resolved from the config file and environment
  units      Print unit state from a running engine
  submit     Send one classified error to a running engine
  stats      Poll the Prometheus metrics endpoint and print live counters

Environment:
  CPU_ISOLATION_ENABLE  "yes" enables isolation
  CPU_CE_THRESHOLD      corrected errors per cycle that offline a unit
  CPU_ISOLATION_LIMIT   maximum number of offline units
  CPU_ISOLATION_CYCLE   sliding window, e.g. 24h, 90m, 3d

Examples:
  aegis-isolate run -config ./data/config.yaml
  aegis-isolate policy -config ./data/config.yaml
  aegis-isolate submit -unit 3 -kind uncorrected
  aegis-isolate stats -url http://localhost:9100/metrics -interval 1s
`)
}
