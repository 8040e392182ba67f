package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"farmhold/internal/config"
	"farmhold/internal/gate"
	"farmhold/internal/homes"
	persistlog "farmhold/internal/persistence/log"
	"farmhold/internal/persistence/store"
	"farmhold/internal/pipeline"
	"farmhold/internal/sim/world"
	"farmhold/internal/transport/ws"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		settingsPath = flag.String("settings", "./configs/settings.yaml", "settings file path")
		saveID       = flag.String("save", "save_1", "save id (scopes all durable state)")
		tickRate     = flag.Int("tick_rate", 10, "simulation tick rate (hz)")
		dayTicks     = flag.Int("day_ticks", 6000, "ticks per in-game day")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[farmhold] ", log.LstdFlags|log.Lmicroseconds)

	settings, err := config.Load(*settingsPath)
	if err != nil {
		logger.Fatalf("load settings: %v", err)
	}
	env := config.FromEnv()
	if env.Secret == "" {
		logger.Fatalf("FARMHOLD_SECRET is not set; refusing to run an open server")
	}

	st, err := store.Open(filepath.Join(*dataDir, "farmhold.db"), *saveID)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	// Merge persisted state with the settings file: the file wins and is
	// written back, the previous values are kept for change detection.
	prevStrategy, _, err := st.ActiveStrategy()
	if err != nil {
		logger.Fatalf("read persisted strategy: %v", err)
	}
	if err := st.SetActiveStrategy(string(settings.Strategy)); err != nil {
		logger.Fatalf("persist strategy: %v", err)
	}
	prevCeiling, hadCeiling, err := st.PlayerCeiling()
	if err != nil {
		logger.Fatalf("read persisted ceiling: %v", err)
	}
	if hadCeiling && prevCeiling != settings.PlayerCeiling {
		logger.Printf("player ceiling changed %d -> %d", prevCeiling, settings.PlayerCeiling)
	}
	if err := st.SetPlayerCeiling(settings.PlayerCeiling); err != nil {
		logger.Fatalf("persist ceiling: %v", err)
	}
	override, err := st.StackOverride()
	if err != nil {
		logger.Fatalf("read stack override: %v", err)
	}

	audit := persistlog.NewAuditLogger(filepath.Join(*dataDir, "saves", *saveID))
	defer audit.Close()

	pipe := pipeline.New(logger)

	w := world.New(world.Config{
		TickRateHz:     *tickRate,
		DayLengthTicks: *dayTicks,
		FarmName:       settings.FarmName,
		PlayerCeiling:  settings.PlayerCeiling,
	}, pipe, logger, audit)

	lobby := world.NewLobby(w)

	g := gate.New(gate.Config{
		Secret:            []byte(env.Secret),
		MaxFailedAttempts: env.MaxFailedAttempts,
		Timeout:           env.AuthTimeout(),
		WelcomeDelay:      settings.WelcomeDelay(),
		ReminderInterval:  settings.ReminderInterval(),
		HostIdentity:      w.HostIdentity(),
	}, w, lobby, logger, audit)
	g.RegisterOutbound(pipe)

	pool, err := homes.New(homes.Config{
		Strategy:            settings.Strategy,
		MinFreeHomes:        settings.MinFreeHomes,
		FarmLocation:        w.FarmLocation(),
		SharedInterior:      w.SharedInterior(),
		SharedInteriorOwner: w.HostIdentity(),
		Override:            override,
	}, st, w, logger, audit)
	if err != nil {
		logger.Fatalf("init home pool: %v", err)
	}

	w.AttachGate(g)
	w.AttachPool(pool)
	pool.ApplyStartupPolicy(config.Strategy(prevStrategy), settings.ExistingHomePolicy)
	pool.EnsureMinimumFreeHomes(settings.MinFreeHomes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("world loop: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", ws.NewServer(w, g, st, logger).Handler())

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Printf("listening on %s (strategy=%s, ceiling=%d)", *addr, settings.Strategy, settings.PlayerCeiling)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Printf("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
	w.Stop()
}
