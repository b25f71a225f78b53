package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"timelock.mini/tlm/internal/config"
	"timelock.mini/tlm/internal/host"
	"timelock.mini/tlm/internal/identity"
	"timelock.mini/tlm/internal/ledger"
	"timelock.mini/tlm/internal/store"
	"timelock.mini/tlm/internal/types"
)

type options struct {
	dir    string
	price  string
	scheme string
	port   int
}

// prepare creates the owner key, config.json and an initialized ledger
// database in opts.dir. Existing files are kept, so it is safe to rerun.
func prepare(ctx context.Context, opts options) (types.AccountID, error) {
	price, err := types.ParseAmount(opts.price)
	if err != nil {
		return "", fmt.Errorf("initial price: %w", err)
	}
	if err := os.MkdirAll(opts.dir, 0o755); err != nil {
		return "", err
	}

	cfg := config.Defaults()
	cfg.InitialPrice = price.String()
	cfg.KeyScheme = opts.scheme
	if opts.port > 0 {
		cfg.Port = opts.port
	}

	id, err := identity.LoadOrCreateIdentityScheme(filepath.Join(opts.dir, cfg.KeyFile), identity.Scheme(opts.scheme))
	if err != nil {
		return "", fmt.Errorf("owner key: %w", err)
	}
	owner := types.AccountID(id.PublicKeyHex())

	if err := writeConfig(filepath.Join(opts.dir, "config.json"), cfg); err != nil {
		return "", err
	}

	st, err := store.NewStore(filepath.Join(opts.dir, cfg.DBFile))
	if err != nil {
		return "", fmt.Errorf("open ledger database: %w", err)
	}
	defer st.Close()

	snap, err := st.Load(ctx)
	switch {
	case err == nil:
		if snap.Meta.Owner != owner {
			return "", fmt.Errorf("database belongs to %s, not %s", snap.Meta.Owner.Short(), owner.Short())
		}
		log.Printf("INFO: ledger already initialized (%d hashes, price %s)", snap.Meta.TotalHashes, snap.Meta.PricePerByte)
		return owner, nil
	case !errors.Is(err, store.ErrNotInitialized):
		return "", err
	}

	l := ledger.NewWithPrice(ledger.Env{
		Clock:    host.NewSystemClock(),
		Treasury: host.NewTreasury(),
	}, owner, price)
	if err := st.Initialize(ctx, l.Snapshot()); err != nil {
		return "", fmt.Errorf("initialize ledger: %w", err)
	}
	log.Printf("INFO: initialized ledger at price %s per byte", price)
	return owner, nil
}

// writeConfig writes cfg unless the file already exists.
func writeConfig(path string, cfg *config.Config) error {
	if _, err := os.Stat(path); err == nil {
		log.Printf("INFO: keeping existing %s", path)
		return nil
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
