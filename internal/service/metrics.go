package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_payments_processed_total",
		Help: "Completed service payments routed into the ledger, by payment method",
	}, []string{"method"})

	debtsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_debts_created_total",
		Help: "Commission debts created for cash services",
	})

	debtsMarkedOverdue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_debts_overdue_total",
		Help: "Debts promoted to overdue by the sweeper",
	})

	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_sweep_runs_total",
		Help: "Debt sweep runs, by outcome",
	}, []string{"result"})
)
