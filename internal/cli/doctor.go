package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/telegent/telegent/internal/config"
	"github.com/telegent/telegent/internal/output"
	"github.com/telegent/telegent/internal/tmux"
)

var doctorJSON bool

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate the relay environment",
		Long: `Checks everything the relay needs before it starts:

  - tmux installed and responding
  - claude binary on PATH
  - config file present with credentials
  - permission scratch directory writable

Exit code is non-zero when any check fails.`,
		RunE: runDoctor,
	}
	cmd.Flags().BoolVar(&doctorJSON, "json", false, "Output as JSON")
	return cmd
}

// DoctorReport is the full environment check result.
type DoctorReport struct {
	Timestamp time.Time `json:"timestamp"`
	Overall   string    `json:"overall"` // "healthy", "warning", "unhealthy"
	Checks    []Check   `json:"checks"`
	Warnings  int       `json:"warnings"`
	Errors    int       `json:"errors"`
}

// Check is one environment check result.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "warning", "error"
	Message string `json:"message,omitempty"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	report := performDoctorCheck()

	if doctorJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	renderDoctorReport(report)

	switch report.Overall {
	case "unhealthy":
		os.Exit(2)
	case "warning":
		os.Exit(1)
	}
	return nil
}

func performDoctorCheck() *DoctorReport {
	report := &DoctorReport{Timestamp: time.Now(), Overall: "healthy"}
	add := func(c Check) {
		report.Checks = append(report.Checks, c)
		switch c.Status {
		case "error":
			report.Errors++
		case "warning":
			report.Warnings++
		}
	}

	add(checkTmux())
	cfg, cfgCheck := checkConfig()
	add(cfgCheck)
	add(checkClaudeBin(cfg))
	add(checkPermDir(cfg))
	add(checkTranscription(cfg))

	if report.Errors > 0 {
		report.Overall = "unhealthy"
	} else if report.Warnings > 0 {
		report.Overall = "warning"
	}
	return report
}

func checkTmux() Check {
	client := tmux.NewClient()
	if !client.IsInstalled() {
		return Check{Name: "tmux", Status: "error", Message: "not found on PATH"}
	}
	version, err := client.Run("-V")
	if err != nil {
		return Check{Name: "tmux", Status: "warning", Message: fmt.Sprintf("installed but not responding: %v", err)}
	}
	return Check{Name: "tmux", Status: "ok", Message: strings.TrimSpace(version)}
}

func checkConfig() (*config.Config, Check) {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, Check{Name: "config", Status: "error", Message: fmt.Sprintf("%s: %v", path, err)}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, Check{Name: "config", Status: "error", Message: err.Error()}
	}
	return cfg, Check{Name: "config", Status: "ok", Message: path}
}

func checkClaudeBin(cfg *config.Config) Check {
	bin := "claude"
	if cfg != nil && cfg.ClaudeBin != "" {
		bin = cfg.ClaudeBin
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: "claude", Status: "warning",
			Message: fmt.Sprintf("%s not found on PATH; agent mode will not launch", bin)}
	}
	return Check{Name: "claude", Status: "ok", Message: path}
}

func checkPermDir(cfg *config.Config) Check {
	dir := os.TempDir()
	if cfg != nil && cfg.Perm.Dir != "" {
		dir = cfg.Perm.Dir
	}
	probe := filepath.Join(dir, fmt.Sprintf(".telegent_doctor_%d", os.Getpid()))
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		return Check{Name: "perm dir", Status: "error", Message: fmt.Sprintf("%s not writable: %v", dir, err)}
	}
	os.Remove(probe)
	return Check{Name: "perm dir", Status: "ok", Message: dir}
}

func checkTranscription(cfg *config.Config) Check {
	if cfg == nil || cfg.Media.TranscribeCommand == "" {
		return Check{Name: "transcription", Status: "ok", Message: "not configured (voice messages disabled)"}
	}
	bin := strings.Fields(cfg.Media.TranscribeCommand)[0]
	if _, err := exec.LookPath(bin); err != nil {
		return Check{Name: "transcription", Status: "warning",
			Message: fmt.Sprintf("%s not found on PATH", bin)}
	}
	return Check{Name: "transcription", Status: "ok", Message: cfg.Media.TranscribeCommand}
}

func renderDoctorReport(report *DoctorReport) {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		renderDoctorPlain(os.Stdout, report)
		return
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	render := func(s lipgloss.Style, text string) string {
		return s.Render(text)
	}
	statusIcon := func(s string) string {
		switch s {
		case "ok":
			return render(okStyle, "✓")
		case "warning":
			return render(warnStyle, "⚠")
		default:
			return render(errorStyle, "✗")
		}
	}

	fmt.Println()
	fmt.Println(render(titleStyle, "Telegent Doctor"))
	fmt.Println()
	for _, c := range report.Checks {
		fmt.Printf("  %s %-14s %s\n", statusIcon(c.Status), c.Name, render(mutedStyle, c.Message))
	}
	fmt.Println()

	switch report.Overall {
	case "healthy":
		fmt.Println(render(okStyle, "Overall: HEALTHY"))
	case "warning":
		fmt.Println(render(warnStyle, fmt.Sprintf("Overall: HEALTHY (%d warnings)", report.Warnings)))
	case "unhealthy":
		fmt.Println(render(errorStyle,
			fmt.Sprintf("Overall: UNHEALTHY (%d errors, %d warnings)", report.Errors, report.Warnings)))
	}
	fmt.Println()
}

// renderDoctorPlain emits an unstyled table for pipes and CI logs.
func renderDoctorPlain(w io.Writer, report *DoctorReport) {
	f := output.NewFormatter(w)
	f.Textln("Telegent Doctor")
	f.Line()

	table := output.NewTable(w, "CHECK", "STATUS", "MESSAGE")
	for _, c := range report.Checks {
		table.AddRow(c.Name, c.Status, output.Truncate(c.Message, 80))
	}
	table.Render()

	f.Line()
	switch report.Overall {
	case "healthy":
		f.Textln("Overall: HEALTHY")
	case "warning":
		f.Textln("Overall: HEALTHY (%d warnings)", report.Warnings)
	case "unhealthy":
		f.Textln("Overall: UNHEALTHY (%d errors, %d warnings)", report.Errors, report.Warnings)
	}
}
