// Command twentyeight-server runs the 28/56 real-time table server: HTTP
// REST endpoints for session lifecycle, a WebSocket endpoint for gameplay,
// and the background registry cleanup / bot-driver loops.
//
// Grounded on the donor's apps/server/main.go wiring order (construct
// backing services, build the mux, start listening), generalized from its
// three-way auth/ledger/story services to this module's single persistence
// repository plus registry/dispatcher/gateway/bot-driver stack.
package main

import (
	"context"
	"net/http"
	"os"

	"github.com/charmbracelet/log"

	"twentyeight/internal/botdriver"
	"twentyeight/internal/broadcast"
	"twentyeight/internal/config"
	"twentyeight/internal/dispatcher"
	"twentyeight/internal/gateway"
	"twentyeight/internal/persistence"
	"twentyeight/internal/registry"
	"twentyeight/internal/restapi"
)

func main() {
	logger := log.New(os.Stderr)
	logger.SetLevel(log.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	repo, err := persistence.NewFromMode(cfg.PersistenceConfig())
	if err != nil {
		logger.Fatal("failed to initialize persistence", "mode", cfg.StoreMode, "error", err)
	}
	defer repo.Close()

	reg := registry.New(
		logger.WithPrefix("registry"),
		registry.WithLoader(func(ctx context.Context, sessionID string) ([]byte, error) {
			row, err := repo.LoadLatest(ctx, sessionID)
			if err != nil || row == nil {
				return nil, err
			}
			return row.Blob, nil
		}),
		registry.WithShortCodeLoader(func(ctx context.Context, shortCode string) ([]byte, error) {
			row, err := repo.LoadLatestByShortCode(ctx, shortCode)
			if err != nil || row == nil {
				return nil, err
			}
			return row.Blob, nil
		}),
		registry.WithSaver(func(ctx context.Context, sessionID, shortCode string) error {
			return repo.SaveSession(ctx, persistence.SnapshotRow{
				SessionID: sessionID,
				ShortCode: shortCode,
				Phase:     "LOBBY",
				Reason:    "created",
			})
		}),
		registry.WithIdleTTLs(cfg.IdleLobbyTTL, cfg.IdleActiveTTL, cfg.IdleCompletedTTL),
	)
	defer reg.Stop()

	hubs := broadcast.NewRegistry()
	bots := botdriver.NewWithDelays(logger.WithPrefix("botdriver"), func(sessionID string) {
		e, ok := reg.Resolve(sessionID)
		if !ok {
			return
		}
		if blob, err := e.Serialize(); err == nil {
			if err := repo.SaveSession(context.Background(), persistence.SnapshotRow{
				SessionID: e.ID(),
				ShortCode: e.ShortCode(),
				Phase:     string(e.State()),
				Reason:    "bot_mutation",
				Blob:      blob,
			}); err != nil {
				logger.Error("failed to persist bot mutation", "session", e.ID(), "error", err)
			}
		}
		hubs.HubFor(e.ID()).Broadcast(e.PublicState(), e.HandFor, e.PlayableCardsFor)
	}, botdriver.Delays{Bid: cfg.BotBidDelay, Trump: cfg.BotTrumpDelay, Play: cfg.BotPlayDelay})

	dispatch := dispatcher.New(repo, hubs, bots, logger.WithPrefix("dispatcher"))
	gw := gateway.New(reg, dispatch, hubs, logger.WithPrefix("gateway"))
	rest := restapi.NewHandler(reg, logger.WithPrefix("restapi"))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	rest.RegisterRoutes(mux)

	logger.Info("starting server", "addr", cfg.Addr, "store_mode", cfg.StoreMode)
	if err := http.ListenAndServe(cfg.Addr, withCORS(mux)); err != nil {
		logger.Fatal("server stopped", "error", err)
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
