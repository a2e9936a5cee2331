package funding

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/meridianlabs/sidechain-client/internal/core/ledger"
)

const (
	// DefaultPreloadFactor sizes a new fund at this multiple of the
	// reservation that triggered it, so one settlement round trip pays
	// for many micronotes.
	DefaultPreloadFactor = 100

	// batchCloseSafetyMargin retires a batch before the remote service
	// would start rejecting its notes.
	batchCloseSafetyMargin = 30 * time.Second

	// minimumBatchTimeRemaining is required of any newly adopted batch.
	minimumBatchTimeRemaining = 30 * time.Minute

	defaultReserveAttempts = 5
	defaultRetryBaseDelay  = 200 * time.Millisecond
	defaultBatchListTTL    = 2 * time.Minute
)

// FundAPI is the remote surface the funding protocol needs. The sidechain
// client implements it with verified batches and authenticated calls.
type FundAPI interface {
	GetActiveBatches(ctx context.Context) ([]Batch, error)
	FindFund(ctx context.Context, batch Batch, microgons *big.Int) (*MicronoteFund, error)
	CreateFund(ctx context.Context, batch Batch, centagons *big.Int) (*MicronoteFund, error)
}

// BatchFunding serializes all fund acquisition through one queue: a single
// reservation attempt runs at a time, so two concurrent callers can never
// both debit the same remaining balance. The critical section is cheap
// (map lookup plus arithmetic) except when a fund must first be created
// remotely, which is exactly the case concurrent callers must wait for.
type BatchFunding struct {
	api    FundAPI
	logger *zap.Logger

	preloadFactor *big.Int
	attempts      int
	baseDelay     time.Duration
	batchListTTL  time.Duration
	now           func() time.Time

	// queueMu is the single-flight queue. It is held across the whole
	// reservation attempt, remote calls included.
	queueMu sync.Mutex

	fundsByBatch    map[string]*batchFunds
	activeBatchSlug string
	batches         []Batch
	batchesFetched  time.Time
}

type batchFunds struct {
	// hasActiveFund distinguishes "no fund tracked" from a remote fund
	// whose id happens to be zero.
	hasActiveFund bool
	activeFundsID uint64
	fundsByID     map[uint64]*MicronoteFund
}

type Option func(*BatchFunding)

func WithLogger(logger *zap.Logger) Option {
	return func(f *BatchFunding) { f.logger = logger }
}

func WithPreloadFactor(factor int64) Option {
	return func(f *BatchFunding) { f.preloadFactor = big.NewInt(factor) }
}

func WithRetryBaseDelay(delay time.Duration) Option {
	return func(f *BatchFunding) { f.baseDelay = delay }
}

func WithBatchListTTL(ttl time.Duration) Option {
	return func(f *BatchFunding) { f.batchListTTL = ttl }
}

// WithClock overrides the time source, used by tests to step through
// batch expiry windows.
func WithClock(now func() time.Time) Option {
	return func(f *BatchFunding) { f.now = now }
}

func New(api FundAPI, opts ...Option) *BatchFunding {
	f := &BatchFunding{
		api:           api,
		logger:        zap.NewNop(),
		preloadFactor: big.NewInt(DefaultPreloadFactor),
		attempts:      defaultReserveAttempts,
		baseDelay:     defaultRetryBaseDelay,
		batchListTTL:  defaultBatchListTTL,
		now:           time.Now,
		fundsByBatch:  make(map[string]*batchFunds),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Reserve sets aside microgons of prepaid credit, creating or refreshing
// a fund when necessary. Retryable failures are retried with exponential
// backoff up to the attempt budget; fatal classifications propagate
// immediately.
func (f *BatchFunding) Reserve(ctx context.Context, microgons *big.Int) (*Reservation, error) {
	if microgons == nil || microgons.Sign() <= 0 {
		return nil, errors.New("reservation must be a positive microgon amount")
	}

	f.queueMu.Lock()
	defer f.queueMu.Unlock()

	var lastErr error
	delay := f.baseDelay
	for attempt := 0; attempt < f.attempts; attempt++ {
		reservation, err := f.reserveOnce(ctx, microgons)
		if err == nil {
			return reservation, nil
		}
		lastErr = err

		var needsFunding *NeedsBatchFundingError
		if errors.As(err, &needsFunding) {
			// refunding pass: retire the exhausted fund so the next
			// attempt provisions a fresh one, no backoff needed
			f.logger.Info("micronote fund exhausted, refunding",
				zap.String("batch", needsFunding.BatchSlug),
				zap.String("microgons", needsFunding.MicrogonsNeeded.String()))
			f.retireActiveFund(needsFunding.BatchSlug)
			continue
		}

		if !IsRetryable(err) {
			return nil, err
		}

		f.logger.Warn("retryable funding failure, clearing batch state",
			zap.Int("attempt", attempt+1), zap.Error(err))
		f.clearBatchState()
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
	return nil, errors.Wrapf(lastErr, "fund reservation failed after %d attempts", f.attempts)
}

func (f *BatchFunding) reserveOnce(ctx context.Context, microgons *big.Int) (*Reservation, error) {
	batch, err := f.activeBatch(ctx)
	if err != nil {
		return nil, err
	}

	funds := f.fundsByBatch[batch.BatchSlug]
	if funds == nil {
		funds = &batchFunds{fundsByID: make(map[uint64]*MicronoteFund)}
		f.fundsByBatch[batch.BatchSlug] = funds
	}

	if !funds.hasActiveFund {
		fund, err := f.api.FindFund(ctx, batch, microgons)
		if err != nil {
			return nil, err
		}
		if fund == nil {
			fund, err = f.createFund(ctx, batch, microgons)
			if err != nil {
				return nil, err
			}
		}
		funds.hasActiveFund = true
		funds.activeFundsID = fund.FundsID
		funds.fundsByID[fund.FundsID] = fund
	}

	fund := funds.fundsByID[funds.activeFundsID]
	if fund.MicrogonsRemaining.Cmp(microgons) < 0 {
		return nil, &NeedsBatchFundingError{
			BatchSlug:       batch.BatchSlug,
			MicrogonsNeeded: new(big.Int).Set(microgons),
		}
	}

	// optimistic local debit, no remote round trip
	fund.MicrogonsRemaining.Sub(fund.MicrogonsRemaining, microgons)
	return &Reservation{
		FundsID:   fund.FundsID,
		Batch:     batch,
		Microgons: new(big.Int).Set(microgons),
	}, nil
}

func (f *BatchFunding) createFund(ctx context.Context, batch Batch, microgons *big.Int) (*MicronoteFund, error) {
	preload := new(big.Int).Mul(microgons, f.preloadFactor)
	centagons := ledger.MicrogonsToCentagons(preload)
	if batch.MinimumFundingCentagons != nil && centagons.Cmp(batch.MinimumFundingCentagons) < 0 {
		centagons = new(big.Int).Set(batch.MinimumFundingCentagons)
	}
	f.logger.Info("creating micronote fund",
		zap.String("batch", batch.BatchSlug),
		zap.String("centagons", centagons.String()))
	return f.api.CreateFund(ctx, batch, centagons)
}

// activeBatch returns the batch new funds should target, refreshing the
// cached list when it is stale and rotating away from a batch that is
// about to stop accepting notes.
func (f *BatchFunding) activeBatch(ctx context.Context) (Batch, error) {
	now := f.now()
	refresh := len(f.batches) == 0 || now.Sub(f.batchesFetched) > f.batchListTTL

	for tries := 0; tries < 2; tries++ {
		if refresh {
			batches, err := f.api.GetActiveBatches(ctx)
			if err != nil {
				return Batch{}, err
			}
			f.batches = batches
			f.batchesFetched = now
		}

		if f.activeBatchSlug != "" {
			if batch, ok := f.findBatch(f.activeBatchSlug); ok && batch.RemainingOpenTime(now) > batchCloseSafetyMargin {
				return batch, nil
			}
			f.logger.Info("retiring closing micronote batch", zap.String("batch", f.activeBatchSlug))
			f.activeBatchSlug = ""
		}

		for _, batch := range f.batches {
			if batch.RemainingOpenTime(now) >= minimumBatchTimeRemaining {
				f.activeBatchSlug = batch.BatchSlug
				return batch, nil
			}
		}

		refresh = true
	}
	return Batch{}, errors.New("no micronote batch has enough time remaining")
}

func (f *BatchFunding) findBatch(slug string) (Batch, bool) {
	for _, batch := range f.batches {
		if batch.BatchSlug == slug {
			return batch, true
		}
	}
	return Batch{}, false
}

func (f *BatchFunding) retireActiveFund(batchSlug string) {
	if funds := f.fundsByBatch[batchSlug]; funds != nil {
		funds.hasActiveFund = false
		funds.activeFundsID = 0
	}
}

// InvalidateBatches drops the cached batch list and the active batch so
// the next reservation re-derives a fresh batch, used when the remote
// service reports the current batch closed or unknown.
func (f *BatchFunding) InvalidateBatches() {
	f.queueMu.Lock()
	defer f.queueMu.Unlock()
	f.clearBatchState()
}

func (f *BatchFunding) clearBatchState() {
	f.activeBatchSlug = ""
	f.batches = nil
	f.batchesFetched = time.Time{}
}

// FinalizePayment credits back the unused portion of a reservation once
// the settled cost is known. It is an explicit refund; the settled amount
// is never re-debited.
func (f *BatchFunding) FinalizePayment(batchSlug string, fundsID uint64, reserved, actual *big.Int) error {
	if actual.Cmp(reserved) > 0 {
		return errors.Errorf("settled cost %s exceeds the %s microgons reserved", actual, reserved)
	}

	f.queueMu.Lock()
	defer f.queueMu.Unlock()

	funds := f.fundsByBatch[batchSlug]
	if funds == nil {
		f.logger.Debug("finalize for untracked batch", zap.String("batch", batchSlug))
		return nil
	}
	fund := funds.fundsByID[fundsID]
	if fund == nil {
		f.logger.Debug("finalize for untracked fund",
			zap.String("batch", batchSlug), zap.Uint64("fundsId", fundsID))
		return nil
	}

	refund := new(big.Int).Sub(reserved, actual)
	if refund.Sign() > 0 {
		fund.MicrogonsRemaining.Add(fund.MicrogonsRemaining, refund)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
