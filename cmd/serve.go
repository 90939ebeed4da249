package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/govsniper/govsniper/internal/payment"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		env.Scheduler.Start(ctx)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})

		payment.NewHandler(env.Payments).Routes(r)

		r.Post("/checkout", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				TenderID string `json:"tender_id"`
				ClientID string `json:"client_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenderID == "" || req.ClientID == "" {
				http.Error(w, `{"error":"tender_id and client_id are required"}`, http.StatusBadRequest)
				return
			}

			checkout, err := env.Payments.CreateCheckout(r.Context(), req.TenderID, req.ClientID)
			if err != nil {
				zap.L().Error("checkout failed",
					zap.String("tender", req.TenderID),
					zap.String("client", req.ClientID),
					zap.Error(err),
				)
				http.Error(w, `{"error":"checkout failed"}`, http.StatusBadGateway)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{
				"payment_id":       checkout.Payment.ExternalID,
				"confirmation_url": checkout.ConfirmationURL,
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			<-ctx.Done()
			zap.L().Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Jobs.ShutdownTimeout())
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)

			if err := env.Scheduler.Stop(cfg.Jobs.ShutdownTimeout()); err != nil {
				zap.L().Warn("scheduler shutdown incomplete", zap.Error(err))
			}
		}()

		zap.L().Info("server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		<-stopped
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
