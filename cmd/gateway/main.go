package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/agentgate/gateway/internal/config"
	"github.com/agentgate/gateway/internal/paywall"
	"github.com/agentgate/gateway/pkg/gateway"
	"github.com/agentgate/gateway/pkg/responders"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// Local development convenience; missing .env files are not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	opts := make([]gateway.Option, 0, len(cfg.Paywall.Endpoints))
	for key := range cfg.Paywall.Endpoints {
		opts = append(opts, gateway.WithEndpoint(key, paidStub(key)))
	}

	app, err := gateway.NewApp(cfg, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build gateway: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("gateway.exited")
		os.Exit(1)
	}
}

// paidStub stands in for the priced business handlers when the gateway
// runs standalone. It echoes the settlement that admitted the request, so
// the full challenge/settle round trip can be exercised end to end before
// real handlers are mounted.
func paidStub(endpoint string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"status":   "ok",
			"endpoint": endpoint,
		}
		if verification, ok := paywall.VerificationFromContext(r.Context()); ok {
			response["paidBy"] = verification.From.Hex()
			response["txHash"] = verification.TxHash.Hex()
			response["amount"] = verification.Amount.String()
		}
		responders.JSON(w, http.StatusOK, response)
	})
}
