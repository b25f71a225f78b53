// Package main is the entry point for the timelock node (tlm). It restores
// the stamping ledger from SQLite, serves the signed-transaction API and
// anchors stamped hashes on a schedule.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timelock.mini/tlm/internal/anchor"
	"timelock.mini/tlm/internal/api"
	"timelock.mini/tlm/internal/config"
	"timelock.mini/tlm/internal/docs"
	"timelock.mini/tlm/internal/events"
	"timelock.mini/tlm/internal/executor"
	"timelock.mini/tlm/internal/host"
	"timelock.mini/tlm/internal/identity"
	"timelock.mini/tlm/internal/ledger"
	"timelock.mini/tlm/internal/logger"
	"timelock.mini/tlm/internal/store"
	"timelock.mini/tlm/internal/telemetry"
	"timelock.mini/tlm/internal/types"
	"timelock.mini/tlm/internal/web"
)

func main() {
	restoreBackup := flag.String("restore-backup", "", "replace the ledger database with this backup from the backups directory before starting")
	flag.Parse()

	log.SetPrefix("[TLM] ")
	log.Printf("INFO: timelock node %s starting...", types.Version)

	if err := run(*restoreBackup); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	log.Println("INFO: shut down cleanly")
}

func run(restoreBackup string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(configPath())
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Setup(ctx, "tlm", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer shutdownTracing(context.Background())

	id, err := identity.LoadOrCreateIdentityScheme(cfg.KeyFile, identity.Scheme(cfg.KeyScheme))
	if err != nil {
		return fmt.Errorf("load owner key %s: %w", cfg.KeyFile, err)
	}
	owner := types.AccountID(id.PublicKeyHex())
	log.Printf("INFO: node key %s (%s)", owner.Short(), id.Scheme())

	if restoreBackup != "" {
		moved, err := store.RestoreBackup(cfg.DBFile, restoreBackup)
		if err != nil {
			return fmt.Errorf("restore backup %s: %w", restoreBackup, err)
		}
		for _, path := range moved {
			log.Printf("WARN: previous database file kept at %s", path)
		}
	}

	st, err := store.NewStore(cfg.DBFile)
	if errors.Is(err, store.ErrUnusable) {
		return fmt.Errorf("%w; inspect it, or start with -restore-backup <name> to replace it", err)
	}
	if err != nil {
		return fmt.Errorf("open ledger database: %w", err)
	}
	defer st.Close()

	lg := logger.New(200)
	bus := events.NewBus(64)
	bus.OnEvent(func(ev types.Event) {
		lg.Info(fmt.Sprintf("Ledger: %s (seq %d)", ev.Kind, ev.Seq))
	})

	l, err := openLedger(ctx, st, bus, owner, cfg)
	if err != nil {
		return err
	}

	anchorer, closePublisher, err := newAnchorer(st, owner, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	if every, err := cfg.AnchorEvery(); err != nil {
		return err
	} else if every > 0 {
		go anchorer.Run(ctx, every)
		log.Printf("INFO: anchoring every %s", every)
	}
	if every, err := cfg.BackupEvery(); err != nil {
		return err
	} else if every > 0 {
		go runBackups(ctx, st, every, cfg.MaxBackups, lg)
	}

	if err := ensurePortAvailable(cfg.Port); err != nil {
		return fmt.Errorf("port %d unavailable: %w", cfg.Port, err)
	}

	exec := executor.New(l)
	exec.SetDeliveryLog(st)
	apiService := api.NewService(l, exec, st, anchorer, lg)
	apiService.SetMaxBackups(cfg.MaxBackups)
	server, err := web.NewServer(l, apiService, docs.NewService(), bus, lg, cfg.Port)
	if err != nil {
		return fmt.Errorf("initialize web server: %w", err)
	}
	serverErrors := server.Start(ctx)
	lg.Info(fmt.Sprintf("Node ready: %d hashes, price %s per byte", l.GetStats().TotalHashes, l.GetPricePerByte()))

	select {
	case <-ctx.Done():
		log.Println("INFO: shutting down...")
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("web server exited: %w", err)
		}
	}

	if _, err := st.BackupCurrent(cfg.MaxBackups); err != nil {
		log.Printf("WARN: final backup failed: %v", err)
	}
	return nil
}

func configPath() string {
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	if _, err := os.Stat("/etc/tlm/config.json"); err == nil {
		return "/etc/tlm/config.json"
	}
	return "config.json"
}

// openLedger restores the persisted ledger, or creates and journals a new
// one owned by owner at the configured price.
func openLedger(ctx context.Context, st *store.Store, sink ledger.EventSink, owner types.AccountID, cfg *config.Config) (*ledger.Ledger, error) {
	clock := host.NewSystemClock()
	treasury := host.NewFundedTreasury()
	if cfg.TrustDeclaredValue {
		log.Printf("WARN: stamps are accepted with whatever value they declare")
		treasury = host.NewTreasury()
	}
	env := ledger.Env{
		Clock:    clock,
		Treasury: treasury,
		Events:   sink,
		Journal:  st,
	}

	snap, err := st.Load(ctx)
	if errors.Is(err, store.ErrNotInitialized) {
		price, err := cfg.Price()
		if err != nil {
			return nil, fmt.Errorf("initial price: %w", err)
		}
		l := ledger.NewWithPrice(env, owner, price)
		if err := st.Initialize(ctx, l.Snapshot()); err != nil {
			return nil, fmt.Errorf("initialize ledger: %w", err)
		}
		log.Printf("INFO: created ledger owned by %s at %s per byte", owner.Short(), price)
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	if snap.Meta.Owner != owner {
		log.Printf("WARN: node key %s is not the ledger owner %s; owner calls must be signed with the owner key", owner.Short(), snap.Meta.Owner.Short())
	}
	treasury.Seed(snap.Balance)
	for account, funds := range snap.Accounts {
		treasury.SeedAccount(account, funds)
	}
	clock.Floor(snap.Meta.LastUpdated)
	for _, ts := range snap.Records {
		clock.Floor(ts)
	}
	log.Printf("INFO: restored ledger: %d hashes, balance %s", len(snap.Records), snap.Balance)
	return ledger.Restore(env, snap), nil
}

// newAnchorer publishes to Hedera when it is configured and keeps
// checkpoints local otherwise.
func newAnchorer(st *store.Store, owner types.AccountID, cfg *config.Config) (*anchor.Anchorer, func(), error) {
	if !cfg.HederaEnabled() {
		return anchor.New(st, nil, owner), func() {}, nil
	}
	pub, err := anchor.NewHederaPublisher(anchor.HederaConfig{
		Network:    cfg.HederaNetwork,
		TopicID:    cfg.HederaTopicID,
		AccountID:  cfg.HederaAccountID,
		PrivateKey: cfg.HederaPrivateKey,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("hedera publisher: %w", err)
	}
	log.Printf("INFO: anchoring to Hedera topic %s on %s", cfg.HederaTopicID, cfg.HederaNetwork)
	return anchor.New(st, pub, owner), func() {
		if err := pub.Close(); err != nil {
			log.Printf("WARN: closing hedera client: %v", err)
		}
	}, nil
}

func runBackups(ctx context.Context, st *store.Store, every time.Duration, maxBackups int, lg *logger.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			path, err := st.BackupCurrent(maxBackups)
			if err != nil {
				lg.Error(fmt.Sprintf("Scheduled backup failed: %v", err))
				continue
			}
			if path != "" {
				lg.Info(fmt.Sprintf("Scheduled backup written: %s", path))
			}
		}
	}
}

func ensurePortAvailable(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return listener.Close()
}
