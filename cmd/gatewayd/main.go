package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Lagnajit09/swiftpay-infraops-sub000/internal/config"
	"github.com/Lagnajit09/swiftpay-infraops-sub000/internal/gateway"
)

func main() {
	cfg, err := config.Load("8082")
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	dbPool, err := pgxpool.New(context.Background(), cfg.DBSource)
	if err != nil {
		zap.L().Fatal("Unable to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	store := gateway.NewPGStore(dbPool)
	if err := store.InitSchema(context.Background()); err != nil {
		zap.L().Fatal("Schema init failed", zap.Error(err))
	}

	service := gateway.NewService(store, gateway.SimulatedBank{})
	handler := gateway.NewHandler(service)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	handler.Register(apiV1)

	zap.L().Info("Payment gateway adapter starting",
		zap.String("port", cfg.Port),
		zap.String("bank", gateway.SimulatedBank{}.Name()))
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		zap.L().Fatal("Server stopped", zap.Error(err))
	}
}
