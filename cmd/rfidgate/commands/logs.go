package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marmos91/rfidgate/pkg/config"
	"github.com/marmos91/rfidgate/pkg/oplog"
)

var (
	logsFollow bool
	logsLines  int
	logsSince  string
	logsServer bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the operation log",
	Long: `Display and optionally follow the tag operation log.

By default this reads oplog.text_path from the configuration. With --server
it reads the server's own log instead (logging.output must be a file).

Examples:
  # Show last 100 operations (default)
  rfidgate logs

  # Follow operations in real-time
  rfidgate logs -f

  # Show operations since a specific time
  rfidgate logs --since "2024-01-15T10:00:00Z"

  # Tail the server log
  rfidgate logs --server -n 20`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "Number of lines to show")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show lines since timestamp (RFC3339 format)")
	logsCmd.Flags().BoolVar(&logsServer, "server", false, "Show the server log instead of the operation log")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	path, err := logPath(cfg, logsServer)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("log file not found: %s\nThe server may not have started yet or is logging elsewhere", path)
	}

	var sinceTime time.Time
	if logsSince != "" {
		sinceTime, err = time.Parse(time.RFC3339, logsSince)
		if err != nil {
			return fmt.Errorf("invalid --since format (use RFC3339): %w", err)
		}
	}

	if logsFollow {
		return followLogs(cmd.OutOrStdout(), path, logsLines, sinceTime)
	}
	return showLogs(cmd.OutOrStdout(), path, logsLines, sinceTime)
}

func logPath(cfg *config.Config, server bool) (string, error) {
	if server {
		out := cfg.Logging.Output
		if out == "stdout" || out == "stderr" {
			return "", fmt.Errorf("server is configured to log to %s, not a file\nConfigure 'logging.output' in config to a file path to use this command", out)
		}
		return out, nil
	}
	if cfg.OpLog.TextPath == "" {
		return "", fmt.Errorf("operation text log is disabled\nConfigure 'oplog.text_path' in config to use this command")
	}
	return cfg.OpLog.TextPath, nil
}

// showLogs writes the last N lines of the file.
func showLogs(w io.Writer, logFile string, lines int, since time.Time) error {
	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var allLines []string
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !since.IsZero() {
			if lineTime := extractTimestamp(line); !lineTime.IsZero() && lineTime.Before(since) {
				continue
			}
		}
		allLines = append(allLines, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	start := 0
	if len(allLines) > lines {
		start = len(allLines) - lines
	}
	for _, line := range allLines[start:] {
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}

// followLogs tails the log file until interrupted.
func followLogs(w io.Writer, logFile string, initialLines int, since time.Time) error {
	if err := showLogs(w, logFile, initialLines, since); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(logFile); err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}

	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end of log file: %w", err)
	}
	reader := bufio.NewReader(file)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Following %s (Ctrl+C to stop)...\n", logFile)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) {
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						break
					}
					_, _ = fmt.Fprint(w, line)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// extractTimestamp finds the time of a log line. It understands the
// operation log's "[2006-01-02 15:04:05]" prefix, RFC3339 at the start of
// the line, and a JSON "time" field.
func extractTimestamp(line string) time.Time {
	if strings.HasPrefix(line, "[") {
		if end := strings.IndexByte(line, ']'); end > 0 {
			if t, err := time.ParseInLocation(oplog.TimestampLayout, line[1:end], time.Local); err == nil {
				return t
			}
		}
	}

	if len(line) >= 20 {
		if t, err := time.Parse(time.RFC3339, line[:20]); err == nil {
			return t
		}
		if len(line) >= 25 {
			if t, err := time.Parse(time.RFC3339, line[:25]); err == nil {
				return t
			}
		}
	}

	const timeKey = `"time":"`
	if idx := strings.Index(line, timeKey); idx >= 0 {
		start := idx + len(timeKey)
		if end := strings.IndexByte(line[start:], '"'); end > 0 {
			if t, err := time.Parse(time.RFC3339Nano, line[start:start+end]); err == nil {
				return t
			}
		}
	}

	return time.Time{}
}
