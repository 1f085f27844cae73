// Package cmd holds the cobra subcommands attached to the root CLI.
package cmd

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"camlink/internal/driver"
	"camlink/internal/logging"
	"camlink/internal/worker"
)

// CreateWorkerCmd creates the worker command. The five positional
// arguments form the spawn contract with the supervisor:
//
//	camlink worker <log_level> <driver_bin_path> <host> <port> <recv_timeout>
//
// log_level is numeric (10=debug, 20=info, 30=warn, 40=error),
// recv_timeout is the client's receive timeout in seconds.
func CreateWorkerCmd() *cobra.Command {
	var driverName string
	var metricsAddr string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "worker [log_level] [driver_bin_path] [host] [port] [recv_timeout]",
		Short: "Run the out-of-process camera worker",
		Long: `Hosts a camera behind a TCP socket. Normally spawned by the supervising ` +
			`client rather than run by hand: it binds the given address, accepts exactly ` +
			`one connection, and exits when that connection ends.`,
		Args: cobra.ExactArgs(5),
		Run: func(_ *cobra.Command, args []string) {
			levelNum, err := strconv.Atoi(args[0])
			if err != nil {
				exitUsage("invalid log level: " + args[0])
			}
			driverBinPath := args[1]
			host := args[2]
			port, err := strconv.Atoi(args[3])
			if err != nil {
				exitUsage("invalid port: " + args[3])
			}
			recvTimeout, err := parseSeconds(args[4])
			if err != nil {
				exitUsage("invalid recv timeout: " + args[4])
			}

			loggingConfig := logging.Config{
				Level:  logging.LevelName(levelNum),
				Format: "text",
			}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("worker")

			adapter, err := driver.New(driverName)
			if err != nil {
				logger.Error("Unknown driver", "error", err)
				os.Exit(1)
			}
			logger.Info("Starting worker", "driver", driverName, "driver_bin_path", driverBinPath)

			srv := worker.New(adapter, recvTimeout, logger)
			if err := srv.Listen(host, port); err != nil {
				logger.Error("Failed to bind", "error", err)
				os.Exit(1)
			}

			if metricsAddr != "" {
				go func() {
					if serveErr := worker.ServeMetrics(metricsAddr); serveErr != nil {
						logger.Warn("Metrics endpoint failed", "error", serveErr)
					}
				}()
			}

			if err := srv.Serve(); err != nil {
				logger.Error("Worker failed", "error", err)
				os.Exit(1)
			}
			logger.Info("Worker exiting")
		},
	}

	cmd.Flags().StringVar(&driverName, "driver", "sim", "Camera driver adapter to use")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (disabled when empty)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}

func exitUsage(msg string) {
	os.Stderr.WriteString(msg + "\n")
	os.Exit(2)
}

func parseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}
