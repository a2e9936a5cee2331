package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/meridianlabs/sidechain-client/internal/core/keyring"
	"github.com/meridianlabs/sidechain-client/internal/core/ledger"
	"github.com/meridianlabs/sidechain-client/internal/core/sidechain"
	"github.com/meridianlabs/sidechain-client/internal/core/wallet"
	"github.com/meridianlabs/sidechain-client/pkg/sigutil"
)

func main() {
	mnemonicFile := flag.String("mnemonic-file", "", "file holding the wallet mnemonic; empty generates a new one")
	passphrase := flag.String("passphrase", "", "optional mnemonic passphrase")
	addressCount := flag.Int("addresses", 1, "number of addresses to derive")
	sidechainURL := flag.String("sidechain-url", "", "base URL of the sidechain service; empty disables micronotes")
	snapshotPath := flag.String("snapshot", "./sidechain-ledger.snap", "where the ledger snapshot is persisted")
	micronote := flag.Int64("micronote", 0, "microgons to issue as a micronote on startup")
	auditable := flag.Bool("auditable", false, "mark the issued micronote auditable")
	flag.Parse()

	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	mnemonic, err := loadMnemonic(*mnemonicFile)
	if err != nil {
		panic(err)
	}

	keys, err := keyring.FromMnemonic(mnemonic, *passphrase, *addressCount)
	if err != nil {
		panic(err)
	}

	opts := []wallet.Option{
		wallet.WithLogger(l),
		wallet.WithSnapshotStore(ledger.NewSnapshotStore(*snapshotPath)),
	}
	if *sidechainURL != "" {
		cli := sidechain.NewClient(*sidechainURL, keys.Identity(), sidechain.WithLogger(l))
		opts = append(opts, wallet.WithSidechainClient(cli))
	}

	w := wallet.New(keys, opts...)
	ctx, cancel := sigutil.WithSignal(context.Background())
	defer cancel()

	if err := w.RestoreSnapshot(ctx); err != nil {
		panic(err)
	}

	l.Info("INITIALIZED",
		zap.String("address", w.Address()),
		zap.String("shares", w.Balance(ledger.LedgerShares).String()),
		zap.String("stable", w.Balance(ledger.LedgerStable).String()),
		zap.String("snapshot", *snapshotPath),
	)

	events := w.Events().Subscribe(16)
	go func() {
		for ev := range events {
			l.Info("wallet event",
				zap.String("kind", string(ev.Kind)),
				zap.Stringer("hash", ev.TransactionHash))
		}
	}()

	if *micronote > 0 {
		note, err := w.CreateMicronote(ctx, big.NewInt(*micronote), *auditable)
		if err != nil {
			l.Error("micronote failed", zap.Error(err))
		} else {
			l.Info("micronote created",
				zap.Uint64("id", note.ID),
				zap.String("batch", note.BatchSlug),
				zap.String("microgons", note.Microgons.String()))
		}
	}

	<-ctx.Done()
	if err := w.Close(ctx); err != nil {
		l.Error("shutdown", zap.Error(err))
	}
}

func loadMnemonic(path string) (string, error) {
	if path == "" {
		mnemonic, err := keyring.NewMnemonic()
		if err != nil {
			return "", err
		}
		fmt.Fprintln(os.Stderr, "generated mnemonic (save this):", mnemonic)
		return mnemonic, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
