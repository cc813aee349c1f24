package metric

import (
	"log/slog"
	"time"

	"mail2cal/src-daemon/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func cycleDuration(as *utils.AppState, clearTickerInterval *time.Duration) {
	cycleDuration := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mail2cal_cycle_duration_millisec",
		Help: "The duration of the last poll cycle in milliseconds",
	})
	good := true
	if err := prometheus.Register(cycleDuration); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register mail2cal_cycle_duration_millisec metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("mail2cal_cycle_duration_millisec metric registered")
		cycleDuration.Set(0)
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		clearTicker := time.NewTicker(*clearTickerInterval)
		defer clearTicker.Stop()
		for {
			select {
			case <-*gracefulShutdownCh:
				switch prometheus.Unregister(cycleDuration) {
				case true:
					slog.Debug("mail2cal_cycle_duration_millisec metric unregistered")
				case false:
					slog.Warn("mail2cal_cycle_duration_millisec metric not registered")
				}
				return
			case duration := <-as.MetricChans.CycleDuration:
				cycleDuration.Set(duration)
				clearTicker.Reset(*clearTickerInterval)
			case <-clearTicker.C:
				cycleDuration.Set(0)
			}
		}
	}()
}

func emailOutcomes(as *utils.AppState) {
	emailOutcomes := promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mail2cal_email_outcomes_total",
		Help: "Processed emails by reconciliation outcome",
	}, []string{"outcome"})
	good := true
	if err := prometheus.Register(emailOutcomes); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register mail2cal_email_outcomes_total metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("mail2cal_email_outcomes_total metric registered")
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		for {
			select {
			case <-*gracefulShutdownCh:
				switch prometheus.Unregister(emailOutcomes) {
				case true:
					slog.Debug("mail2cal_email_outcomes_total metric unregistered")
				case false:
					slog.Warn("mail2cal_email_outcomes_total metric not registered")
				}
				return
			case outcome := <-as.MetricChans.EmailOutcome:
				emailOutcomes.WithLabelValues(outcome).Inc()
			}
		}
	}()
}

func Init(as *utils.AppState) {
	clearTickerInterval := as.Config.GetCheckInterval() * 3

	cycleDuration(as, &clearTickerInterval)
	emailOutcomes(as)
}
