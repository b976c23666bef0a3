package commands

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/fastvm/internal/telemetry"
	"evalgo.org/fastvm/models"
)

var (
	topURL          string
	topPollInterval time.Duration
	topMaxAttempts  int
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Follow live host and VM metrics",
	Long: `Follow the live metrics feed of a running server.

When the feed drops, top reconnects with growing delays and falls back to
polling the history endpoint after repeated failures.`,
	RunE: runTop,
}

func init() {
	topCmd.Flags().StringVar(&topURL, "url", "", "API server URL (default: from server config)")
	topCmd.Flags().DurationVar(&topPollInterval, "poll-interval", 5*time.Second, "history poll interval while the feed is down")
	topCmd.Flags().IntVar(&topMaxAttempts, "max-attempts", 5, "reconnect attempts before polling")
}

// feedURLs derives the live feed and history addresses from the base URL.
func feedURLs(base string) (push, history string, err error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", "", fmt.Errorf("invalid url %q: %w", base, err)
	}
	ws := *u
	switch u.Scheme {
	case "https":
		ws.Scheme = "wss"
	case "http":
		ws.Scheme = "ws"
	default:
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	ws.Path = "/ws/metrics"
	u.Path = "/api/v1/metrics/history"
	return ws.String(), u.String(), nil
}

func serverURL() string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}

func runTop(cmd *cobra.Command, args []string) error {
	base := topURL
	if base == "" {
		base = serverURL()
	}
	push, history, err := feedURLs(base)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	client := telemetry.NewClient(telemetry.ClientOptions{
		PushURL:      push,
		HistoryURL:   history,
		MaxAttempts:  topMaxAttempts,
		PollInterval: topPollInterval,
	})
	client.OnFrame = func(f models.MetricsFrame) {
		printFrame(out, f)
	}
	client.OnHistory = func(h models.MetricsHistory) {
		printFrame(out, latestFrame(h))
	}
	client.OnState = func(s telemetry.State, attempt int) {
		if s == telemetry.StateBackoff {
			fmt.Fprintf(cmd.ErrOrStderr(), "feed lost, reconnect attempt %d\n", attempt)
			return
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "feed %s\n", s)
	}

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// latestFrame builds a frame from the newest sample of every ring.
func latestFrame(h models.MetricsHistory) models.MetricsFrame {
	f := models.MetricsFrame{Type: "history", VMs: map[string]models.MetricSample{}}
	if n := len(h.Host); n > 0 {
		f.Host = h.Host[n-1]
	}
	for id, ring := range h.VMs {
		if n := len(ring); n > 0 {
			f.VMs[id] = ring[n-1]
		}
	}
	return f
}

func printFrame(w io.Writer, f models.MetricsFrame) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\tCPU %%\tMEM MB\tMEM %%\tREAD MB/s\tWRITE MB/s\n", f.Host.Timestamp.Format(time.TimeOnly))
	row := func(name string, s models.MetricSample) {
		fmt.Fprintf(tw, "%s\t%.1f\t%.0f\t%.1f\t%.2f\t%.2f\n",
			name, s.CPUPercent, s.MemoryUsedMB, s.MemoryPercent, s.DiskReadMBps, s.DiskWriteMBps)
	}
	row("host", f.Host)

	ids := make([]string, 0, len(f.VMs))
	for id := range f.VMs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		row(id, f.VMs[id])
	}
	_ = tw.Flush()
	fmt.Fprintln(w)
}
