package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gruasrd/walletops/internal/api"
	"github.com/gruasrd/walletops/internal/config"
	"github.com/gruasrd/walletops/internal/domain"
	"github.com/gruasrd/walletops/internal/notify"
	"github.com/gruasrd/walletops/internal/service"
	"github.com/gruasrd/walletops/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ledgerStore, err := store.NewStore(cfg.DBSource)
	if err != nil {
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer ledgerStore.Close()

	var notifier domain.Notifier
	if cfg.PushWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.PushWebhookURL, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	wallets := service.NewWalletService(ledgerStore, notifier, logger)
	sweeper := service.NewSweeper(ledgerStore, wallets, notifier, logger, cfg.SweepInterval)
	handler := api.NewHandler(wallets)

	sweeper.Start(context.Background())
	defer sweeper.Stop()

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/services/{id}/payment", handler.ProcessServicePaymentHandler).Methods("POST")
	apiV1.HandleFunc("/operators/{id}/wallet", handler.CreateWalletHandler).Methods("POST")
	apiV1.HandleFunc("/operators/{id}/wallet", handler.GetWalletHandler).Methods("GET")
	apiV1.HandleFunc("/operators/{id}/cash-eligibility", handler.CashEligibilityHandler).Methods("GET")
	apiV1.HandleFunc("/operators/{id}/transactions", handler.TransactionHistoryHandler).Methods("GET")
	apiV1.HandleFunc("/operators/{id}/statement", handler.StatementHandler).Methods("GET")
	apiV1.HandleFunc("/operators/{id}/debt-payments", handler.CreateDebtPaymentIntentHandler).Methods("POST")
	apiV1.HandleFunc("/wallets/{id}/debt-payments/complete", handler.CompleteDebtPaymentHandler).Methods("POST")
	apiV1.HandleFunc("/wallets/{id}/manual-payouts", handler.RecordManualPayoutHandler).Methods("POST")
	apiV1.HandleFunc("/wallets/{id}/adjustments", handler.AdminAdjustmentHandler).Methods("POST")
	apiV1.HandleFunc("/wallets/{id}/block", handler.BlockCashServicesHandler).Methods("POST")
	apiV1.HandleFunc("/wallets/{id}/unblock", handler.UnblockCashServicesHandler).Methods("POST")

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
