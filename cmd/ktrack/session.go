package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/ktrack/internal/config"
	"github.com/goodtune/ktrack/internal/control"
	"github.com/goodtune/ktrack/internal/model"
	"github.com/goodtune/ktrack/internal/session"
	"github.com/spf13/cobra"
)

var (
	controlAddr   string
	startProject  string
	startTask     string
	startNote     string
	consentSource string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running session",
	Long:  `Query the control API of a running ktrack daemon and print the session status.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var st session.Status
		if err := controlRequest(http.MethodGet, "/api/session", nil, &st); err != nil {
			return err
		}
		printStatus(st)
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Drive the tracking session",
	Long:  `Start, pause, resume, stop or reset the tracking session of a running ktrack daemon.`,
}

var sessionStartCmd = &cobra.Command{
	Use:     "start",
	Short:   "Start tracking",
	Example: `  ktrack session start --project website --task TASK-12`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc := model.SessionContext{ProjectID: startProject, TaskID: startTask, Description: startNote}
		return transitionCommand("/api/session/start", sc)
	},
}

var sessionStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop tracking and print the summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp control.StopResponse
		err := controlRequest(http.MethodPost, "/api/session/stop", nil, &resp)
		if err != nil && resp.ServerError == "" {
			return err
		}
		printSummary(resp.Summary)
		if resp.ServerError != "" {
			_, _ = color.New(color.FgYellow).Printf("⚠️  Stopped locally, server not updated: %s\n", resp.ServerError)
		}
		return nil
	},
}

var consentCmd = &cobra.Command{
	Use:       "consent grant|revoke",
	Short:     "Grant or revoke monitoring consent",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"grant", "revoke"},
	RunE: func(cmd *cobra.Command, args []string) error {
		req := control.ConsentRequest{Granted: args[0] == "grant", Source: consentSource}
		var rec model.ConsentRecord
		if err := controlRequest(http.MethodPost, "/api/consent", req, &rec); err != nil {
			return err
		}
		fmt.Printf("Consent %s (source: %s)\n", colorConsent(rec.State), rec.Source)
		return nil
	},
}

var intervalCmd = &cobra.Command{
	Use:     "interval SECONDS",
	Short:   "Change the checkpoint interval",
	Example: `  ktrack interval 300`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, err := strconv.Atoi(args[0])
		if err != nil || seconds <= 0 {
			return fmt.Errorf("invalid interval: %s", args[0])
		}
		var st session.Status
		if err := controlRequest(http.MethodPut, "/api/checkpoint/interval", control.IntervalRequest{Seconds: seconds}, &st); err != nil {
			return err
		}
		fmt.Printf("Checkpoint interval set to %s\n", st.CheckpointInterval)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&controlAddr, "addr", "", "Control API address (defaults to server.bind_address:server.control_port)")

	sessionStartCmd.Flags().StringVar(&startProject, "project", "", "Project ID")
	sessionStartCmd.Flags().StringVar(&startTask, "task", "", "Task ID")
	sessionStartCmd.Flags().StringVar(&startNote, "description", "", "Free-form description")

	consentCmd.Flags().StringVar(&consentSource, "source", "cli", "Where the consent decision came from")

	sessionCmd.AddCommand(sessionStartCmd)
	for _, op := range []string{"pause", "resume", "reset"} {
		path := "/api/session/" + op
		sessionCmd.AddCommand(&cobra.Command{
			Use:   op,
			Short: "Send " + op + " to the session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return transitionCommand(path, nil)
			},
		})
	}
	sessionCmd.AddCommand(sessionStopCmd)

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(consentCmd)
	rootCmd.AddCommand(intervalCmd)
}

func transitionCommand(path string, body any) error {
	var st session.Status
	if err := controlRequest(http.MethodPost, path, body, &st); err != nil {
		return err
	}
	printStatus(st)
	return nil
}

// resolveControlAddr returns --addr or the address from the config file.
func resolveControlAddr() string {
	if controlAddr != "" {
		return controlAddr
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Defaults()
	}
	return fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.ControlPort)
}

// controlRequest calls the control API and decodes the answer into out. Non
// 2xx answers are returned as errors; out is still decoded when the body
// matches its shape.
func controlRequest(method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequest(method, "http://"+resolveControlAddr()+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("control API unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr control.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			_ = json.Unmarshal(raw, out)
			return fmt.Errorf("%s (%d)", apiErr.Message, resp.StatusCode)
		}
		_ = json.Unmarshal(raw, out)
		return fmt.Errorf("control API returned %d", resp.StatusCode)
	}

	return json.Unmarshal(raw, out)
}

func printStatus(st session.Status) {
	bold := color.New(color.Bold)

	_, _ = bold.Print("Phase:        ")
	fmt.Println(colorPhase(st.Phase))
	if st.SessionID != "" {
		_, _ = bold.Print("Session:      ")
		fmt.Println(st.SessionID)
	}
	_, _ = bold.Print("Elapsed:      ")
	fmt.Println(st.Elapsed)
	_, _ = bold.Print("Consent:      ")
	fmt.Println(colorConsent(st.Consent.State))
	_, _ = bold.Print("Monitoring:   ")
	fmt.Println(st.Monitoring)
	if st.Activity != nil {
		_, _ = bold.Print("Activity:     ")
		fmt.Printf("%d%% (pointer %d%%, keys %d%%) %s\n",
			st.Activity.ActivityLevel, st.Activity.PointerActivity, st.Activity.KeyActivity, st.Activity.Productivity)
	}
	_, _ = bold.Print("Checkpoints:  ")
	fmt.Printf("%d every %s\n", st.Checkpoints, st.CheckpointInterval)
}

func printSummary(sum session.Summary) {
	green := color.New(color.FgGreen, color.Bold)

	_, _ = green.Println("✅ Session stopped")
	fmt.Printf("  Elapsed:     %s (%ds)\n", sum.Elapsed, sum.ElapsedSeconds)
	fmt.Printf("  Activity:    %d%% %s\n", sum.Activity.ActivityLevel, sum.Activity.Productivity)
	fmt.Printf("  Checkpoints: %d\n", sum.Checkpoints)
	if sum.Server != nil {
		fmt.Printf("  Server:      %ds tracked, %ds paused\n", sum.Server.DurationSeconds, sum.Server.PauseSeconds)
	}
	if sum.Report != nil {
		for _, rec := range sum.Report.Recommendations {
			fmt.Fprintf(os.Stdout, "  • %s\n", rec)
		}
	}
}

func colorPhase(p session.Phase) string {
	switch p {
	case session.Running:
		return color.GreenString(string(p))
	case session.Paused, session.AwaitingConsent:
		return color.YellowString(string(p))
	case session.Stopped:
		return color.RedString(string(p))
	default:
		return string(p)
	}
}

func colorConsent(s model.ConsentState) string {
	switch s {
	case model.ConsentGranted:
		return color.GreenString(string(s))
	case model.ConsentDenied:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}
