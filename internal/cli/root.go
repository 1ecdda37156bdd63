// Package cli implements the usbcrypt command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbcrypt/driver"
	"github.com/ardnew/usbcrypt/pkg"
	"github.com/ardnew/usbcrypt/pkg/config"
	"github.com/ardnew/usbcrypt/pkg/output"
	"github.com/ardnew/usbcrypt/pkg/prof"
	"github.com/ardnew/usbcrypt/protocol"
	"github.com/ardnew/usbcrypt/transport"
	"github.com/ardnew/usbcrypt/transport/sim"
)

var (
	// Global flags
	cfgFile       string
	outputFormat  string
	protocolFlag  string
	vendorFlag    string
	productFlag   string
	simPassphrase string
	simulate      bool // --simulate: use the in-process token instead of hardware
	verbose       bool
	jsonLogs      bool
	profileOpts   prof.Options

	// Shared state set during PersistentPreRun
	cfg       *config.Config
	formatter output.Formatter
	profiler  *prof.Session
)

// rootCmd is the base command for usbcrypt.
var rootCmd = &cobra.Command{
	Use:   "usbcrypt",
	Short: "Drive a USB crypto token: encryption, signatures, random numbers and key exchange",
	Long: `usbcrypt talks to a USB crypto token over its four bulk endpoints.
Payloads are read from stdin and results written to stdout, so the
commands compose with pipes:

  usbcrypt encrypt < plain.txt > secret.bin
  usbcrypt decrypt < secret.bin
  sig=$(usbcrypt sign < file) && usbcrypt verify "$sig" < file

With --simulate the commands run against an in-process token.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags
		if protocolFlag != "" {
			cfg.Protocol = protocolFlag
		}
		if vendorFlag != "" {
			if cfg.Device.VendorID, err = config.ParseHexID(vendorFlag); err != nil {
				return fmt.Errorf("--vid: %w", err)
			}
		}
		if productFlag != "" {
			if cfg.Device.ProductID, err = config.ParseHexID(productFlag); err != nil {
				return fmt.Errorf("--pid: %w", err)
			}
		}
		if simPassphrase != "" {
			cfg.Simulator.Passphrase = simPassphrase
		}
		if outputFormat != "" {
			cfg.OutputFormat = outputFormat
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if jsonLogs {
			cfg.Logging.Format = "json"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if !output.Valid(cfg.OutputFormat) {
			return fmt.Errorf("unknown output format %q (want table, json or yaml)", cfg.OutputFormat)
		}

		if err := setupLogging(cmd); err != nil {
			return err
		}
		formatter = output.NewFormatter(cfg.OutputFormat)

		profiler, err = prof.Start(profileOpts)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return stopProfiling()
	},
}

// stopProfiling writes any requested profiles. Commands that fail skip
// PersistentPostRunE, so Execute calls it again.
func stopProfiling() error {
	p := profiler
	profiler = nil
	return p.Stop()
}

func setupLogging(cmd *cobra.Command) error {
	level, err := pkg.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	format, err := pkg.ParseLogFormat(cfg.Logging.Format)
	if err != nil {
		return err
	}
	pkg.SetLogLevel(level)
	pkg.SetLogFormat(format)
	pkg.SetLogOutput(cmd.ErrOrStderr())
	return nil
}

// exitError ends the process with a status but no message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the running
// operation; the token is drained before the device is released.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if perr := stopProfiling(); perr != nil {
		fmt.Fprintln(os.Stderr, "Error:", perr)
	}
	if err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// RootCmd returns the root cobra.Command for testing purposes.
func RootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.usbcrypt/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: table, json, yaml (default \"table\")")
	rootCmd.PersistentFlags().StringVar(&protocolFlag, "protocol", "", "opcode table: v1 or v0 (default \"v1\")")
	rootCmd.PersistentFlags().StringVar(&vendorFlag, "vid", "", "USB vendor id of the token (default 0x0483)")
	rootCmd.PersistentFlags().StringVar(&productFlag, "pid", "", "USB product id of the token (default 0x5740)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "use a simulated token instead of hardware")
	rootCmd.PersistentFlags().StringVar(&simPassphrase, "sim-passphrase", "", "derive the simulated token's keys from a passphrase")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every transfer")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "write logs as JSON")
	rootCmd.PersistentFlags().StringVar(&profileOpts.CPU, "cpuprofile", "", "write a CPU profile (needs a -tags profile build)")
	rootCmd.PersistentFlags().StringVar(&profileOpts.Heap, "heapprofile", "", "write a heap profile on exit (needs a -tags profile build)")
	rootCmd.PersistentFlags().StringVar(&profileOpts.HTTPAddr, "pprof-addr", "", "serve /debug/pprof/ on this address (needs a -tags profile build)")
}

// =============================================================================
// Session setup
// =============================================================================

// openTransport opens the simulator or the configured hardware token.
func openTransport(version protocol.Version) (transport.Transport, error) {
	if simulate {
		return sim.New(sim.Options{
			Protocol:   version,
			Passphrase: cfg.Simulator.Passphrase,
		})
	}
	return openHardware(cfg.Device)
}

// driverConfig translates the loaded configuration.
func driverConfig(version protocol.Version, obs driver.Observer) driver.Config {
	return driver.Config{
		Protocol:     version,
		Timeout:      cfg.Timing.Transfer,
		DrainTimeout: cfg.Timing.Drain,
		Retry: driver.RetryPolicy{
			MaxRetries:      cfg.Retry.MaxRetries,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			MaxElapsed:      cfg.Retry.MaxElapsed,
		},
		Observer: obs,
	}
}

// openSession opens a session on the selected token, logging every
// operation.
func openSession() (*driver.Session, error) {
	version, err := protocol.ParseVersion(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	t, err := openTransport(version)
	if err != nil {
		return nil, err
	}
	return driver.New(t, driverConfig(version, driver.LogObserver{})), nil
}

// closeSession drains and releases the token. It runs with its own
// deadline so an interrupted command still leaves the token idle.
func closeSession(sess *driver.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timing.Transfer)
	defer cancel()
	if err := sess.Close(ctx); err != nil {
		pkg.LogWarn(pkg.ComponentCLI, "close session", "error", err)
	}
}
