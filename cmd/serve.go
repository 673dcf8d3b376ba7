package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tracksync/config"
	"tracksync/internal/logging"
	"tracksync/report"
	"tracksync/storage"
	"tracksync/syncer"
	"tracksync/web"
)

var (
	servePort    int
	serveHost    string
	serveDBPath  string
	serveNoOpen  bool
	serveTrigger bool
	serveDryRun  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start local web UI over the stored sync history",
	Long: `Start a local HTTP server listing stored sync runs and their outcomes.

Runs can be exported to CSV or Excel from the run page. With --sync the UI
also offers a "Sync now" button that runs one sync with the active config and
stores it in the history. Only one triggered sync runs at a time.`,
	Example: `
  # Start local server on default port
  tracksync serve

  # Allow triggering dry-run syncs from the browser
  tracksync serve --sync --dry-run --port 9090 --db ./tracksync.db
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.OpenSQLite(serveDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		var trigger web.SyncFunc
		if serveTrigger {
			cfg, err := config.LoadAndValidate()
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Dir: cfg.Logging.Dir})
			if err != nil {
				return err
			}
			defer logger.Close()

			session, err := newSyncSession(cfg, syncSessionOptions{
				DryRun: serveDryRun,
				NoMail: true,
				Format: report.FormatTable,
				Logger: &logger.Logger,
			})
			if err != nil {
				return err
			}
			trigger = func(ctx context.Context) (syncer.Report, error) {
				return session.runner.Run(ctx)
			}
		}

		addr := serveAddress(serveHost, servePort)
		server := &http.Server{
			Addr:              addr,
			Handler:           web.NewServer(store, trigger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.ListenAndServe()
		}()

		listenURL := "http://" + addr
		fmt.Printf("Listening on %s\n", listenURL)
		if !serveNoOpen {
			if openErr := openURLInBrowser(listenURL + "/runs"); openErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to open browser: %v\n", openErr)
			}
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-sigCh:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown server: %w", err)
			}
			err := <-errCh
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP port for the local web server")
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Interface to listen on")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "./tracksync.db", "Path to local SQLite run history")
	serveCmd.Flags().BoolVar(&serveNoOpen, "no-open", false, "Do not open browser automatically")
	serveCmd.Flags().BoolVar(&serveTrigger, "sync", false, "Allow triggering a sync from the UI (requires a valid config)")
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "Run UI-triggered syncs without writing to Redmine")
}

func serveAddress(host string, port int) string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func openURLInBrowser(rawURL string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", rawURL)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", rawURL)
	default:
		cmd = exec.Command("xdg-open", rawURL)
	}
	return cmd.Start()
}
