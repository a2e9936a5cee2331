// Package wallet ties the ledger store, keyring, transaction builders and
// sidechain client together behind one concurrency-safe facade.
package wallet

import (
	"context"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/meridianlabs/sidechain-client/internal/core/funding"
	"github.com/meridianlabs/sidechain-client/internal/core/keyring"
	"github.com/meridianlabs/sidechain-client/internal/core/ledger"
	"github.com/meridianlabs/sidechain-client/internal/core/sidechain"
	"github.com/meridianlabs/sidechain-client/internal/core/transaction"
	"github.com/meridianlabs/sidechain-client/pkg/eventstream"
)

// ErrNoSidechain is returned by micronote operations when the wallet was
// built without a sidechain client.
var ErrNoSidechain = errors.New("no sidechain client configured")

type EventKind string

const (
	EventTransactionSettled EventKind = "transaction-settled"
	EventBlockConfirmed     EventKind = "block-confirmed"
	EventMicronoteCreated   EventKind = "micronote-created"
)

// Event is published to subscribers whenever the wallet's view of funds
// changes.
type Event struct {
	Kind            EventKind
	TransactionHash chainhash.Hash
	TransactionType transaction.Type
	BlockHeight     uint64
	Micronote       *sidechain.Micronote
}

type Option func(*Wallet)

func WithLogger(logger *zap.Logger) Option {
	return func(w *Wallet) { w.logger = logger }
}

func WithSidechainClient(client *sidechain.Client) Option {
	return func(w *Wallet) { w.client = client }
}

func WithSnapshotStore(store ledger.SnapshotStore) Option {
	return func(w *Wallet) { w.snapshots = &store }
}

func WithClock(now func() time.Time) Option {
	return func(w *Wallet) { w.now = now }
}

// Wallet owns one keyring's view of the main ledger plus its micronote
// credit. Builders never mutate the ledger store; settlement is applied
// separately once the remote ledger accepts a transaction.
type Wallet struct {
	logger    *zap.Logger
	keys      *keyring.Keyring
	store     *ledger.UnspentOutputStore
	client    *sidechain.Client
	snapshots *ledger.SnapshotStore
	events    *eventstream.Broker[Event]
	now       func() time.Time
}

func New(keys *keyring.Keyring, opts ...Option) *Wallet {
	w := &Wallet{
		logger: zap.NewNop(),
		keys:   keys,
		events: eventstream.NewBroker[Event](),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.store = ledger.NewUnspentOutputStore(keys.ChangeAddress(), w.logger)
	go w.events.Start()
	return w
}

// Events is the wallet's change feed. Subscribers get one Event per
// settled transaction, confirmed block, and created micronote.
func (w *Wallet) Events() *eventstream.Broker[Event] {
	return w.events
}

func (w *Wallet) Address() string {
	return w.keys.ChangeAddress()
}

func (w *Wallet) Balance(l ledger.Ledger) *big.Int {
	return w.store.Balance(l)
}

// AddUnspentOutput seeds the store with an output discovered out of band,
// typically while syncing history from the main ledger.
func (w *Wallet) AddUnspentOutput(out *ledger.UnspentOutput) {
	w.store.AddUnspentOutput(out)
}

// Transfer builds a signed transfer of the given amounts. The store is
// untouched until the transaction settles.
func (w *Wallet) Transfer(l ledger.Ledger, recipients []transaction.Recipient, fee *big.Int) (*transaction.Transaction, error) {
	return transaction.BuildTransfer(w.store, w.keys, l, recipients, fee, w.now())
}

func (w *Wallet) PurchaseBond(bondAddress string, amount, fee *big.Int, currentHeight, expireAfterBlocks uint64) (*transaction.Transaction, error) {
	return transaction.BuildBondPurchase(w.store, w.keys, bondAddress, amount, fee, currentHeight, expireAfterBlocks, w.now())
}

func (w *Wallet) RedeemBond(recipientAddress string, amount, fee *big.Int) (*transaction.Transaction, error) {
	return transaction.BuildBondRedemption(w.store, w.keys, recipientAddress, amount, fee, w.now())
}

func (w *Wallet) ClaimShareholderCoinage(periods []transaction.CoinagePeriod, claimAddress string) (*transaction.Transaction, error) {
	return transaction.BuildShareholderClaim(w.store, w.keys, periods, claimAddress, w.now())
}

func (w *Wallet) ClaimGrantCoinage(grant transaction.CoinageGrant, amount *big.Int, recipientAddress string) (*transaction.Transaction, error) {
	return transaction.BuildGrantClaim(w.keys, grant, amount, recipientAddress, w.now())
}

// ApplySettled records a transaction the remote ledger has accepted:
// spent outputs leave the store, settled outputs enter it unconfirmed.
func (w *Wallet) ApplySettled(tx *transaction.Transaction) {
	switch tx.Type {
	case transaction.TypeBondPurchase:
		w.store.RecordBondPurchase(tx.TransactionHash, tx.SpentRefs(), tx.SettledOutputs())
	case transaction.TypeBondRedemption:
		w.store.RecordBondRedemption(tx.TransactionHash, tx.SpentRefs(), tx.SettledOutputs())
	case transaction.TypeCoinageClaim:
		w.store.RecordCoinageClaim(tx.TransactionHash, tx.ClaimRecords(), tx.SettledOutputs())
	default:
		w.store.RecordTransfer(tx.TransactionHash, transferLedger(tx), tx.SpentRefs(), tx.SettledOutputs())
	}

	w.logger.Info("settled transaction",
		zap.Stringer("hash", tx.TransactionHash),
		zap.Stringer("type", tx.Type))
	w.events.Publish(Event{
		Kind:            EventTransactionSettled,
		TransactionHash: tx.TransactionHash,
		TransactionType: tx.Type,
	})
}

func transferLedger(tx *transaction.Transaction) ledger.Ledger {
	for _, src := range tx.Sources {
		if src.SourceLedger != nil {
			return *src.SourceLedger
		}
	}
	return ledger.LedgerShares
}

// RecordConfirmedBlock marks the given outputs as confirmed in the block
// and returns how many outputs were updated.
func (w *Wallet) RecordConfirmedBlock(block ledger.BlockRef, refs ...ledger.OutputRef) int {
	updated := w.store.RecordConfirmedBlock(block, refs...)
	if updated > 0 {
		w.events.Publish(Event{Kind: EventBlockConfirmed, BlockHeight: block.Height})
	}
	return updated
}

// ReserveMicronoteFunds sets aside microgons of batch credit for a
// micronote the caller will create itself.
func (w *Wallet) ReserveMicronoteFunds(ctx context.Context, microgons *big.Int) (*funding.Reservation, error) {
	if w.client == nil {
		return nil, ErrNoSidechain
	}
	return w.client.Funding().Reserve(ctx, microgons)
}

// CreateMicronote reserves credit and has the active batch issue a note.
func (w *Wallet) CreateMicronote(ctx context.Context, microgons *big.Int, isAuditable bool) (*sidechain.Micronote, error) {
	if w.client == nil {
		return nil, ErrNoSidechain
	}
	note, err := w.client.CreateMicronote(ctx, microgons, isAuditable)
	if err != nil {
		return nil, err
	}
	w.events.Publish(Event{Kind: EventMicronoteCreated, Micronote: note})
	return note, nil
}

// SaveSnapshot persists the current ledger view.
func (w *Wallet) SaveSnapshot(ctx context.Context) error {
	if w.snapshots == nil {
		return nil
	}
	return w.snapshots.Put(ctx, w.store.Snapshot())
}

// RestoreSnapshot replaces the ledger view with the persisted one. A
// missing snapshot file leaves the store empty without error.
func (w *Wallet) RestoreSnapshot(ctx context.Context) error {
	if w.snapshots == nil {
		return nil
	}
	snap, err := w.snapshots.Get(ctx)
	if err != nil {
		return err
	}
	w.store.Restore(snap)
	return nil
}

// Close flushes a final snapshot and stops the event feed.
func (w *Wallet) Close(ctx context.Context) error {
	err := w.SaveSnapshot(ctx)
	w.events.Stop()
	return err
}
