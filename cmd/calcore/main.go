package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calcore/internal/access"
	"calcore/internal/bus"
	"calcore/internal/config"
	"calcore/internal/ical"
	appLog "calcore/internal/log"
	"calcore/internal/model"
	"calcore/internal/service"
	"calcore/internal/store"
	"calcore/internal/timerange"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	calendar   string
	principal  string
	export     string
	serve      bool
}

func main() {
	appLog.Info("calcore starting", "version", "0.1.0-dev")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.export != "" {
		conf.ExportPath = flags.export
	}

	appLog.Info("effective config",
		"store_path", conf.StorePath,
		"timezone", conf.Timezone,
		"context", conf.Context,
		"horizon_days", conf.HorizonDays,
		"lease_minutes", conf.LeaseMinutes,
		"sweep", conf.SweepCron,
	)

	st, err := store.OpenSQLite(conf.StorePath)
	if err != nil {
		appLog.Error("failed to open store", err, "path", conf.StorePath)
		os.Exit(1)
	}
	defer st.Close()

	// The CLI runs with an all-access oracle; real deployments embed
	// the service behind their own authorization oracle.
	oracle := &access.Static{Superusers: map[string]bool{"system": true}}

	svc := service.New(st, oracle, oracle, oracle, bus.New(), service.Options{
		Lease:         conf.Lease(),
		SweepSchedule: conf.SweepCron,
	})

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, svc, conf, flags); err != nil {
		appLog.Error("run failed", err)
		os.Exit(1)
	}

	appLog.Info("calcore exiting")
}

// run performs a one-shot window query against the configured
// calendar, printing each occurrence, and optionally writes an ICS
// export. With -serve it then blocks with the lease sweeper running.
func run(ctx context.Context, svc *service.Service, conf *config.Config, flags flagConfig) error {
	calRef := model.CalendarRef(conf.Context, flags.calendar)
	if _, err := svc.GetCalendar(ctx, flags.principal, calRef); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			edit, err := svc.AddCalendar(ctx, flags.principal, conf.Context, flags.calendar)
			if err != nil {
				return err
			}
			if err := svc.CommitCalendar(ctx, flags.principal, edit); err != nil {
				return err
			}
			appLog.Info("created calendar", "ref", calRef)
		} else {
			return err
		}
	}

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Warn("unknown timezone, using UTC", "timezone", conf.Timezone)
		loc = time.UTC
	}
	now := time.Now().In(loc)
	window := timerange.New(now, now.AddDate(0, 0, conf.HorizonDays))

	occs, err := svc.QueryEvents(ctx, flags.principal, calRef, &window, 0, false)
	if err != nil {
		return err
	}
	appLog.Info("query complete", "ref", calRef, "window", window.String(), "occurrences", len(occs))
	for _, occ := range occs {
		fmt.Printf("%s  %-30s  %s\n",
			occ.Range().Start.In(loc).Format("2006-01-02 15:04"),
			occ.DisplayName(), occ.ID())
	}

	if conf.ExportPath != "" {
		cal, err := svc.GetCalendar(ctx, flags.principal, calRef)
		if err != nil {
			return err
		}
		if !cal.ExportEnabled() {
			edit, err := svc.EditCalendar(ctx, flags.principal, calRef)
			if err != nil {
				return err
			}
			edit.Calendar().SetExportEnabled(true)
			if err := svc.CommitCalendar(ctx, flags.principal, edit); err != nil {
				return err
			}
			if cal, err = svc.GetCalendar(ctx, flags.principal, calRef); err != nil {
				return err
			}
		}
		payload, err := ical.Export(cal, occs)
		if err != nil {
			return err
		}
		if err := os.WriteFile(conf.ExportPath, []byte(payload), 0o600); err != nil {
			return err
		}
		appLog.Info("wrote export", "path", conf.ExportPath)
	}

	if flags.serve {
		if err := svc.Start(); err != nil {
			return err
		}
		defer svc.Stop()
		<-ctx.Done()
	}
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calcore/config.yaml", "Path to config file")
	flag.StringVar(&cfg.calendar, "calendar", "main", "Calendar id within the configured context")
	flag.StringVar(&cfg.principal, "principal", "system", "Principal used for queries")
	flag.StringVar(&cfg.export, "export", "", "Write an ICS export to this path (overrides config)")
	flag.BoolVar(&cfg.serve, "serve", false, "Keep running with the lease sweeper active")

	flag.Parse()

	return cfg
}
