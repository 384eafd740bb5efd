package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricLoginAttempts counts login attempts by surface and outcome
	metricLoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_login_attempts_total",
		Help: "Login attempts by surface and outcome",
	}, []string{"surface", "outcome"})

	metricLockouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_login_lockouts_total",
		Help: "Number of times a client was locked out after too many attempts",
	})

	// metricRejectedCredentials counts session cookies that failed verification
	metricRejectedCredentials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_rejected_credentials_total",
		Help: "Session credentials that failed signature or payload checks",
	})

	metricLedgerRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_attempt_ledger_records",
		Help: "Clients currently tracked by the login attempt ledger",
	})
)
