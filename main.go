package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mail2cal/src-daemon/cal"
	"mail2cal/src-daemon/mail"
	"mail2cal/src-daemon/metric"
	"mail2cal/src-daemon/poller"
	"mail2cal/src-daemon/reconcile"
	"mail2cal/src-daemon/utils"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	if err := godotenv.Load(); err != nil {
		slog.Info(err.Error())
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.RFC1123Z,
		}),
	))
}

func main() {
	slog.Info("mail2cal starting up, checking connections...")

	as := utils.NewAppState()
	as.Extractor.SetLocation(as.Config.GetLocation())

	// mail auth failing is unrecoverable; better to die now than loop
	mailbox, err := mail.Dial(
		as.Config.GetImapAddr(),
		as.Config.GetImapUser(),
		as.Config.GetImapAppPassword(),
	)
	if err != nil {
		slog.Error("can't connect to mail server", "error", err)
		os.Exit(1)
	}
	mailbox.Logout()
	slog.Info("mail connection successful")

	indexes := initBackends(as)
	if len(indexes) == 0 {
		slog.Error("no calendar backend available, exiting")
		os.Exit(1)
	}
	slog.Info("all enabled connections successful, starting automation")

	engine := reconcile.NewEngine(reconcile.Thresholds{
		DuplicateTitle: as.Config.GetDuplicateTitleThreshold(),
		DuplicateDesc:  as.Config.GetDuplicateDescThreshold(),
		UpdateScore:    as.Config.GetUpdateScoreThreshold(),
	}, indexes...)
	p := poller.New(as, engine)

	if as.Config.GetRunOnce() {
		slog.Info("running in one-time mode")
		result, err := p.RunOnce()
		if err != nil {
			slog.Error("run failed", "error", err)
			os.Exit(1)
		}
		slog.Info("run done", "processed", result.Processed, "succeeded", result.Succeeded)
		return
	}

	go metric.Init(as)

	// metrics endpoint
	go func() {
		muxer := http.NewServeMux()
		muxer.Handle("GET /metrics", promhttp.Handler())
		if err := http.ListenAndServe(":"+as.Config.GetPort(), muxer); err != nil {
			slog.Error("cannot start HTTP server", "error", err)
			as.AppCloseSignalChan <- syscall.SIGTERM
		}
	}()

	slog.Info("running in continuous mode, press Ctrl+C to exit")

	stopCh := make(chan struct{})
	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- p.Run(stopCh)
	}()

	signal.Notify(as.AppCloseSignalChan, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	select {
	case <-as.AppCloseSignalChan:
		slog.Info("Gracefully shutting down...")
		close(stopCh)
		<-runErrCh
		as.GracefulShutdown()
	case err := <-runErrCh:
		as.GracefulShutdown()
		if err != nil {
			slog.Error("too many consecutive errors, stopping service", "error", err)
			os.Exit(1)
		}
	}
}

// initBackends brings up every enabled backend. CalDAV gets a bounded retry
// loop; a backend that stays down is disabled for this run, not fatal, as
// long as the other one made it.
func initBackends(as *utils.AppState) []*cal.Index {
	ctx := context.Background()
	indexes := []*cal.Index{}

	if as.Config.GetCaldavEnabled() {
		var backend *cal.CalDAV
		var err error
		attempts := as.Config.GetCaldavRetryAttempts()
		for attempt := 1; attempt <= attempts; attempt++ {
			backend, err = cal.NewCalDAV(
				ctx,
				as.Config.GetCaldavUrl(),
				as.Config.GetCaldavUsername(),
				as.Config.GetCaldavPassword(),
				as.Config.GetCaldavCalendarName(),
			)
			if err == nil {
				break
			}
			slog.Warn("caldav connection attempt failed",
				"attempt", fmt.Sprintf("%d/%d", attempt, attempts), "error", err)
			if attempt < attempts {
				time.Sleep(as.Config.GetCaldavRetryDelay())
			}
		}
		if err != nil {
			slog.Error("all caldav connection attempts failed, disabling caldav")
		} else {
			slog.Info("caldav calendar initialized")
			indexes = append(indexes, cal.NewIndex(backend, as.Config.GetCaldavCacheTTL()))
		}
	} else {
		slog.Info("caldav is disabled via ENABLE_CALDAV=false")
	}

	if as.Config.GetGoogleEnabled() {
		backend, err := cal.NewGoogle(
			ctx,
			as.Config.GetGoogleCredentialsFile(),
			as.Config.GetGoogleTokenFile(),
			as.Config.GetGoogleCalendarName(),
		)
		if err != nil {
			slog.Error("failed to initialize google calendar, disabling it", "error", err)
		} else {
			slog.Info("google calendar initialized")
			indexes = append(indexes, cal.NewIndex(backend, as.Config.GetGoogleCacheTTL()))
		}
	} else {
		slog.Info("google calendar is disabled via ENABLE_GOOGLE_CALENDAR=false")
	}

	return indexes
}
