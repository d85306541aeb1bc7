// Command wmcored runs the irrigation core's Run Loop as a standalone
// daemon, and offers a handful of offline maintenance subcommands that
// operate directly on the Active-Run Snapshot. There is no network
// control surface here (spec.md §1 places the HTTP API out of the
// core's scope) — "zones", "stop", and "estop" are meant for scripting
// against the on-disk snapshot while the daemon is not running, or for
// inspecting the last state it wrote.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/watermeister/wmcore/configdoc"
	"github.com/watermeister/wmcore/engine"
	"github.com/watermeister/wmcore/hardware"
	"github.com/watermeister/wmcore/pump"
	"github.com/watermeister/wmcore/registry"
	"github.com/watermeister/wmcore/solar"
	"github.com/watermeister/wmcore/zone"
)

var (
	scheduleFlag string
	settingsFlag string
	hardwareFlag string
	stateFlag    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wmcored",
		Short: "Irrigation control core daemon",
		Long:  "wmcored runs the scheduling and zone-control engine that owns every watering zone's authoritative state.",
	}

	root.PersistentFlags().StringVar(&scheduleFlag, "schedule", "schedule.yaml", "path to the Schedule Document")
	root.PersistentFlags().StringVar(&settingsFlag, "settings", "settings.yaml", "path to the Garden Settings document")
	root.PersistentFlags().StringVar(&hardwareFlag, "hardware", "hardware.yaml", "path to the Hardware Configuration document")
	root.PersistentFlags().StringVar(&stateFlag, "state", "active_runs.json", "path to the Active-Run Snapshot file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newZonesCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newEstopCmd())

	return root
}

// loadedConfig bundles everything loadConfig assembles from the three
// documents named in spec.md §6.
type loadedConfig struct {
	zones    *configdoc.HardwareConfig
	schedule configdoc.ScheduleDocument
	settings *configdoc.GardenSettings
}

func loadConfig() (*loadedConfig, error) {
	hw, err := configdoc.LoadHardwareConfig(hardwareFlag)
	if err != nil {
		return nil, err
	}
	sched, err := configdoc.LoadSchedule(scheduleFlag)
	if err != nil {
		return nil, err
	}
	settings, err := configdoc.LoadGardenSettings(settingsFlag)
	if err != nil {
		return nil, err
	}
	return &loadedConfig{zones: hw, schedule: sched, settings: settings}, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduling engine in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			modes, err := cfg.schedule.Modes()
			if err != nil {
				return err
			}
			zones, err := cfg.zones.BuildZoneSet(modes)
			if err != nil {
				return fmt.Errorf("building zone set: %w", err)
			}

			location, err := cfg.settings.Location()
			if err != nil {
				return err
			}

			sim := hardware.NewSimulator(zones, log)
			if err := sim.Initialise(); err != nil {
				return fmt.Errorf("initialising hardware: %w", err)
			}
			driver := pump.New(sim, zones.Pump())

			store := registry.NewStore(stateFlag)
			clock := time.Now
			reg := registry.New(driver, store, clock, log)

			snap, err := store.Read()
			if err != nil {
				log.Warn("failed to read active-run snapshot, starting empty", "error", err)
				snap = map[zone.ID]registry.SnapshotEntry{}
			}
			engine.RestoreSnapshot(reg, snap, clock())

			entries, windows, err := cfg.schedule.Entries()
			if err != nil {
				return fmt.Errorf("parsing schedule: %w", err)
			}

			resolver := solar.NewResolver()
			eng := engine.New(zones, reg, resolver, location, cfg.settings.Multiplier, clock, log)
			eng.ReloadSchedule(entries, windows)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			done := make(chan struct{})
			go func() {
				eng.Run(ctx)
				close(done)
			}()

			<-ctx.Done()
			log.Info("shutting down")
			eng.Stop()
			<-done

			if err := reg.OrderlyShutdown(); err != nil {
				log.Error("orderly shutdown failed", "error", err)
			}
			return nil
		},
	}
}

func newZonesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "zones",
		Short: "List zones currently recorded in the Active-Run Snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := registry.NewStore(stateFlag)
			snap, err := store.Read()
			if err != nil {
				return err
			}
			if len(snap) == 0 {
				fmt.Println("no active runs")
				return nil
			}
			now := time.Now()
			for id, entry := range snap {
				remaining := entry.End.Sub(now)
				fmt.Printf("zone %d: origin=%s end=%s remaining=%s\n", id, entry.Origin, entry.End.Format(time.RFC3339), remaining.Round(time.Second))
			}
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <zone_id>",
		Short: "Remove a zone from the Active-Run Snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseZoneArg(args[0])
			if err != nil {
				return err
			}

			store := registry.NewStore(stateFlag)
			snap, err := store.Read()
			if err != nil {
				return err
			}
			delete(snap, id)

			runs := make(map[zone.ID]registry.Run, len(snap))
			for zid, entry := range snap {
				runs[zid] = registry.Run{Zone: zid, End: entry.End, Origin: entry.Origin}
			}
			return store.Write(runs)
		},
	}
}

func newEstopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "estop",
		Short: "Clear the Active-Run Snapshot entirely",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := registry.NewStore(stateFlag)
			return store.Write(nil)
		},
	}
}

func parseZoneArg(s string) (zone.ID, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid zone id %q", s)
	}
	return zone.ID(n), nil
}
