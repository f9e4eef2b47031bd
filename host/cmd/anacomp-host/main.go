// Package main provides the anacomp-host CLI: it drives the analog
// comparator firmware over a serial link, or over an in-process simulator.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"anacomp/core"
	"anacomp/host/acomp"
	"anacomp/host/config"
	"anacomp/host/hostlog"
	"anacomp/host/mcu"
	"anacomp/host/serial"
	"anacomp/host/sim"
	"anacomp/host/store"
)

const (
	defaultDevice        = "/dev/ttyUSB0"
	defaultReadTimeoutMs = 100
	defaultEventLimit    = 20
	connectTimeout       = 10 * time.Second
)

var (
	configPath    string
	device        string
	baud          int
	readTimeoutMs int
	logLevel      string
	logFormat     string
	dbPath        string
	noStore       bool
	simulate      bool
	simPeriod     time.Duration
	mcuDebug      bool

	compPositive string
	compNegative string
	compRedirect bool

	waitTimeoutMs int

	monitorEdge     string
	monitorDuration time.Duration

	eventsLimit int
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "anacomp-host",
		Short:             "Host tool for the analog comparator firmware",
		SilenceUsage:      true,
		SilenceErrors:     false,
		PersistentPreRunE: loadSettings,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", config.DefaultConfigPath(), "config file path")
	pf.StringVar(&device, "device", defaultDevice, "serial device path")
	pf.IntVar(&baud, "baud", serial.DefaultBaud, "baud rate")
	pf.IntVar(&readTimeoutMs, "read-timeout-ms", defaultReadTimeoutMs, "serial read timeout in milliseconds")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	pf.StringVar(&dbPath, "db", config.DefaultDBPath(), "event database path")
	pf.BoolVar(&noStore, "no-store", false, "do not record events and waits")
	pf.BoolVar(&simulate, "sim", false, "run against a fresh in-process firmware simulator")
	pf.DurationVar(&simPeriod, "sim-period", 0, "toggle the simulated comparator input at this period")
	pf.BoolVar(&mcuDebug, "mcu-debug", false, "log the firmware's debug messages")

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newDictCmd())
	rootCmd.AddCommand(newStateCmd())
	rootCmd.AddCommand(newConfigureCmd())
	rootCmd.AddCommand(newWaitCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newDisableIRQCmd())
	rootCmd.AddCommand(newShutdownCmd())
	rootCmd.AddCommand(newEventsCmd())

	return rootCmd
}

// loadSettings overlays the config file on flags the user did not set and
// configures logging.
func loadSettings(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "device", &device, fileCfg.Serial.Device)
	applyIntConfig(cmd, "baud", &baud, fileCfg.Serial.Baud)
	applyIntConfig(cmd, "read-timeout-ms", &readTimeoutMs, fileCfg.Serial.ReadTimeoutMs)
	applyStringConfig(cmd, "log-level", &logLevel, fileCfg.Log.Level)
	applyStringConfig(cmd, "log-format", &logFormat, fileCfg.Log.Format)
	applyStringConfig(cmd, "db", &dbPath, fileCfg.Store.Path)
	applyStringConfig(cmd, "positive", &compPositive, fileCfg.Comparator.Positive)
	applyStringConfig(cmd, "negative", &compNegative, fileCfg.Comparator.Negative)
	applyBoolConfig(cmd, "redirect", &compRedirect, fileCfg.Comparator.Redirect)
	applyStringConfig(cmd, "edge", &monitorEdge, fileCfg.Comparator.Edge)
	applyIntConfig(cmd, "timeout-ms", &waitTimeoutMs, fileCfg.Comparator.WaitTimeoutMs)

	level, err := hostlog.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	format, err := hostlog.ParseFormat(logFormat)
	if err != nil {
		return err
	}
	hostlog.Setup(cmd.ErrOrStderr(), format)
	hostlog.SetLevel(level)
	slog.SetDefault(hostlog.Logger())
	return nil
}

// session is one identified connection to the firmware.
type session struct {
	mcu    *mcu.MCU
	client *acomp.Client
	fw     *sim.Firmware
	stop   chan struct{}
}

func connect(ctx context.Context) (*session, error) {
	log := hostlog.For(hostlog.ComponentMCU)
	s := &session{stop: make(chan struct{})}

	if simulate {
		cmp := sim.NewComparator(8, true)
		s.fw = sim.Start(cmp)
		s.mcu = mcu.New(s.fw.Port(), mcu.WithLogger(log))
		if simPeriod > 0 {
			go toggleInput(cmp, simPeriod, s.stop)
		}
		hostlog.Info(hostlog.ComponentCLI, "using simulated firmware")
	} else {
		cfg := &serial.Config{
			Device:      device,
			Baud:        baud,
			ReadTimeout: time.Duration(readTimeoutMs) * time.Millisecond,
		}
		m, err := mcu.Dial(cfg, mcu.WithLogger(log))
		if err != nil {
			return nil, err
		}
		s.mcu = m
		hostlog.Info(hostlog.ComponentSerial, "connected", "device", device, "baud", baud)
	}

	idCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := s.mcu.Identify(idCtx); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to identify firmware: %w", err)
	}
	client, err := acomp.NewClient(s.mcu, hostlog.For(hostlog.ComponentComparator))
	if err != nil {
		s.close()
		return nil, err
	}
	s.client = client

	if mcuDebug {
		if err := s.mcu.SetDebug(ctx, true); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to enable firmware debug: %w", err)
		}
	}
	return s, nil
}

func (s *session) close() {
	close(s.stop)
	if err := s.mcu.Close(); err != nil {
		hostlog.Debug(hostlog.ComponentMCU, "close", "err", err)
	}
	if s.fw != nil {
		if err := s.fw.Close(); err != nil {
			hostlog.Debug(hostlog.ComponentMCU, "close simulator", "err", err)
		}
	}
}

func toggleInput(cmp *sim.Comparator, period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	level := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			level = !level
			cmp.SetLevel(level)
		}
	}
}

// withSession connects, runs fn and disconnects.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func openStore() (*store.Store, error) {
	if noStore {
		return nil, nil
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	return st, nil
}

func closeStore(st *store.Store) {
	if st == nil {
		return
	}
	if cerr := st.Close(); cerr != nil {
		logErrf("failed to close db: %v\n", cerr)
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create the config file if missing and print its path",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(cmd *cobra.Command, _ []string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(config.DefaultTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}
	return writeOut(cmd, "%s\n", configPath)
}

func newDictCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "dict",
		Short: "Print the firmware's data dictionary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(_ context.Context, s *session) error {
				dict, err := s.mcu.Dictionary()
				if err != nil {
					return err
				}
				if raw {
					return writeOut(cmd, "%x\n", s.mcu.RawDictionary())
				}
				return printDictionary(cmd.OutOrStdout(), dict)
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the dictionary bytes as served (hex)")
	return cmd
}

func printDictionary(w io.Writer, dict *mcu.Dictionary) error {
	lines := []string{fmt.Sprintf("version: %s", dict.Version), "config:"}
	for _, name := range sortedKeys(dict.Config) {
		lines = append(lines, fmt.Sprintf("  %s = %s", name, dict.Config[name]))
	}
	lines = append(lines, "commands:")
	for _, sig := range dict.CommandSignatures() {
		lines = append(lines, fmt.Sprintf("  [%d] %s", dict.Commands[sig], sig))
	}
	lines = append(lines, "responses:")
	for _, sig := range dict.ResponseSignatures() {
		lines = append(lines, fmt.Sprintf("  [%d] %s", dict.Responses[sig], sig))
	}
	if len(dict.Enumerations) > 0 {
		lines = append(lines, "enumerations:")
		for _, name := range sortedKeys(dict.Enumerations) {
			lines = append(lines, fmt.Sprintf("  %s: %d values", name, len(dict.Enumerations[name])))
		}
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Query the comparator state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				st, err := s.client.Query(ctx)
				if err != nil {
					return err
				}
				return printState(cmd.OutOrStdout(), st)
			})
		},
	}
}

func printState(w io.Writer, st acomp.State) error {
	negative := "pin"
	if st.Negative != core.NegativePin {
		negative = fmt.Sprintf("adc%d", uint8(st.Negative))
	}
	positive := "pin"
	if st.Positive == core.InternalReference {
		positive = "bandgap"
	}
	edge := "-"
	if st.State == core.StateConfiguredWithInterrupt {
		edge = st.Edge.String()
	}
	_, err := fmt.Fprintf(w, "state=%s positive=%s negative=%s redirect=%v edge=%s adc_saved=%v events=%d\n",
		st.State, positive, negative, st.Redirect, edge, st.Saved, st.Count)
	return err
}

func newConfigureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Power the comparator up with the given inputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := comparatorSettings()
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.client.Configure(ctx, settings); err != nil {
					if errors.Is(err, core.ErrAlreadyConfigured) {
						logErrln("comparator is already configured; run shutdown first")
					}
					return err
				}
				st, err := s.client.Query(ctx)
				if err != nil {
					return err
				}
				return printState(cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().StringVar(&compPositive, "positive", "pin", "positive input (pin, bandgap)")
	cmd.Flags().StringVar(&compNegative, "negative", "pin", "negative input (pin or converter channel)")
	cmd.Flags().BoolVar(&compRedirect, "redirect", false, "route the output to the timer input capture")
	return cmd
}

func comparatorSettings() (acomp.Settings, error) {
	pos, err := acomp.ParsePositive(compPositive)
	if err != nil {
		return acomp.Settings{}, err
	}
	neg, err := acomp.ParseNegative(compNegative)
	if err != nil {
		return acomp.Settings{}, err
	}
	return acomp.Settings{Positive: pos, Negative: neg, Redirect: compRedirect}, nil
}

func newWaitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Block until the comparator output goes high or the timeout expires",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if waitTimeoutMs < 0 {
				return fmt.Errorf("timeout-ms must be >= 0")
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer closeStore(st)

			return withSession(cmd, func(ctx context.Context, s *session) error {
				requested := time.Now().UTC()
				res, err := s.client.Wait(ctx, time.Duration(waitTimeoutMs)*time.Millisecond)
				if err != nil {
					return err
				}
				if st != nil {
					if _, err := st.InsertWait(ctx, store.Wait{
						RequestedAt: requested,
						TimeoutMs:   uint32(waitTimeoutMs),
						Triggered:   res.Triggered,
						Clock:       res.Clock,
					}); err != nil {
						logErrf("failed to record wait: %v\n", err)
					}
				}
				result := "timeout"
				if res.Triggered {
					result = "triggered"
				}
				return writeOut(cmd, "%s clock=%d\n", result, res.Clock)
			})
		},
	}
	cmd.Flags().IntVar(&waitTimeoutMs, "timeout-ms", 0, "wait timeout in milliseconds (0 = firmware default)")
	return cmd
}

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Arm the comparator interrupt and print events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			edge, err := acomp.ParseEdge(monitorEdge)
			if err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer closeStore(st)

			return withSession(cmd, func(ctx context.Context, s *session) error {
				return runMonitor(ctx, cmd, s, st, edge)
			})
		},
	}
	cmd.Flags().StringVar(&monitorEdge, "edge", "rising", "edge to report (toggle, falling, rising)")
	cmd.Flags().DurationVar(&monitorDuration, "duration", 0, "stop after this long (0 = until interrupted)")
	return cmd
}

func runMonitor(ctx context.Context, cmd *cobra.Command, s *session, st *store.Store, edge core.EdgeMode) error {
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	events, cancelEvents := s.client.Events(64)
	defer cancelEvents()

	if err := s.client.EnableInterrupt(ctx, edge); err != nil {
		return err
	}
	hostlog.Info(hostlog.ComponentComparator, "monitoring", "edge", edge.String())

	var lastCount uint32
	for {
		select {
		case <-ctx.Done():
			// Leave the comparator configured, with delivery off
			off, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return s.client.DisableInterrupt(off)
		case ev := <-events:
			if lastCount != 0 && ev.Count > lastCount+1 {
				hostlog.Debug(hostlog.ComponentComparator, "coalesced events", "merged", ev.Count-lastCount-1)
			}
			lastCount = ev.Count
			if err := writeOut(cmd, "%s clock=%d count=%d\n", ev.Received.Format(time.RFC3339Nano), ev.Clock, ev.Count); err != nil {
				return err
			}
			if st != nil {
				if err := st.InsertEvent(ctx, store.Event{
					ReceivedAt: ev.Received.UTC(),
					Clock:      ev.Clock,
					Count:      ev.Count,
					Edge:       edge.String(),
				}); err != nil {
					logErrf("failed to record event: %v\n", err)
				}
			}
		}
	}
}

func newDisableIRQCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable-irq",
		Short: "Disarm interrupt delivery, keeping the comparator powered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return s.client.DisableInterrupt(ctx)
			})
		},
	}
}

func newShutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Power the comparator down and restore the converter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return s.client.Shutdown(ctx)
			})
		},
	}
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded comparator events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if eventsLimit <= 0 {
				return fmt.Errorf("limit must be > 0")
			}
			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open db: %w", err)
			}
			defer closeStore(st)

			events, err := st.RecentEvents(cmd.Context(), eventsLimit)
			if err != nil {
				return fmt.Errorf("failed to load events: %w", err)
			}
			if len(events) == 0 {
				logErrln("no events recorded yet; run monitor first")
				return nil
			}
			for _, ev := range events {
				if err := writeOut(cmd, "%s clock=%d count=%d edge=%s\n",
					ev.ReceivedAt.Format(time.RFC3339Nano), ev.Clock, ev.Count, ev.Edge); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&eventsLimit, "limit", defaultEventLimit, "number of events to list")
	return cmd
}

func writeOut(cmd *cobra.Command, format string, args ...any) error {
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), format, args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Lookup(name) == nil || cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Lookup(name) == nil || cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Lookup(name) == nil || cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
