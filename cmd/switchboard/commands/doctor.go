package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/switchboard/internal/history"
	"github.com/marcus/switchboard/internal/logging"
	"github.com/marcus/switchboard/internal/provider"
	"github.com/marcus/switchboard/internal/settings"
)

type checkStatus string

const (
	statusOK   checkStatus = "OK"
	statusWarn checkStatus = "WARN"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	name   string
	status checkStatus
	detail string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check switchboard configuration and backends",
	Long: `Run diagnostics to detect configuration and environment issues.

Checks config, the transcript database, the log directory, and each
registered backend's installation and credentials.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	results := make([]checkResult, 0)
	hasFail := false

	add := func(name string, status checkStatus, detail string) {
		if status == statusFail {
			hasFail = true
		}
		results = append(results, checkResult{name: name, status: status, detail: detail})
	}

	checkConfig(add)
	checkDatabase(add)
	checkLogDir(add)
	checkBackends(cmd, add)

	printDoctorResults(cmd, results)

	if hasFail {
		return fmt.Errorf("doctor found failures")
	}
	return nil
}

func checkConfig(add func(string, checkStatus, string)) {
	path := configPath
	if path == "" {
		path = settings.DefaultPath()
	}
	if _, err := settings.Load(configPath); err != nil {
		add("config", statusFail, err.Error())
		return
	}
	if _, err := os.Stat(path); err != nil {
		add("config", statusWarn, "no config file, using defaults")
		return
	}
	add("config", statusOK, path)
}

func checkDatabase(add func(string, checkStatus, string)) {
	db, err := history.Open("")
	if err != nil {
		add("db", statusFail, err.Error())
		return
	}
	defer func() { _ = db.Close() }()
	add("db", statusOK, history.DefaultPath())
}

func checkLogDir(add func(string, checkStatus, string)) {
	dir := logging.DefaultConfig().Path
	if err := os.MkdirAll(dir, 0755); err != nil {
		add("logs", statusFail, err.Error())
		return
	}
	add("logs", statusOK, dir)
}

func checkBackends(cmd *cobra.Command, add func(string, checkStatus, string)) {
	reg := provider.Default()
	for _, name := range reg.Names() {
		p, ok := reg.Get(name)
		if !ok {
			continue
		}
		det, err := p.DetectInstallation(cmd.Context())
		if err != nil {
			add(name, statusFail, err.Error())
			continue
		}
		switch {
		case !det.Installed:
			add(name, statusWarn, det.Guidance)
		case !det.Authenticated:
			add(name, statusWarn, "installed but no credentials found")
		default:
			detail := det.Path
			if det.Version != "" {
				detail = fmt.Sprintf("%s (%s)", det.Path, det.Version)
			}
			if detail == "" {
				detail = "available via package runner"
			}
			add(name, statusOK, detail)
		}
	}
}

func printDoctorResults(cmd *cobra.Command, results []checkResult) {
	out := cmd.OutOrStdout()
	for _, r := range results {
		fmt.Fprintf(out, "[%-4s] %-10s %s\n", r.status, r.name, r.detail)
	}
}
