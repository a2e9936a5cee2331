package funding

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeAPI struct {
	mu          sync.Mutex
	batchCalls  int
	findCalls   int
	createCalls int

	batchesFn func(call int) ([]Batch, error)
	findFn    func(call int, batch Batch, microgons *big.Int) (*MicronoteFund, error)
	createFn  func(call int, batch Batch, centagons *big.Int) (*MicronoteFund, error)
}

func (a *fakeAPI) GetActiveBatches(context.Context) ([]Batch, error) {
	a.mu.Lock()
	a.batchCalls++
	call := a.batchCalls
	a.mu.Unlock()
	return a.batchesFn(call)
}

func (a *fakeAPI) FindFund(_ context.Context, batch Batch, microgons *big.Int) (*MicronoteFund, error) {
	a.mu.Lock()
	a.findCalls++
	call := a.findCalls
	a.mu.Unlock()
	if a.findFn == nil {
		return nil, nil
	}
	return a.findFn(call, batch, microgons)
}

func (a *fakeAPI) CreateFund(_ context.Context, batch Batch, centagons *big.Int) (*MicronoteFund, error) {
	a.mu.Lock()
	a.createCalls++
	call := a.createCalls
	a.mu.Unlock()
	return a.createFn(call, batch, centagons)
}

type tempErr string

func (e tempErr) Error() string   { return string(e) }
func (e tempErr) Temporary() bool { return true }

var testTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func openBatch(slug string, openFor time.Duration) Batch {
	return Batch{
		BatchSlug:               slug,
		StopNewNotesTime:        testTime.Add(openFor),
		MinimumFundingCentagons: big.NewInt(100),
	}
}

func singleBatchAPI(fund *MicronoteFund) *fakeAPI {
	return &fakeAPI{
		batchesFn: func(int) ([]Batch, error) {
			return []Batch{openBatch("batch-1", 2*time.Hour)}, nil
		},
		findFn: func(call int, _ Batch, _ *big.Int) (*MicronoteFund, error) {
			if call == 1 {
				return fund, nil
			}
			return nil, nil
		},
		createFn: func(_ int, batch Batch, centagons *big.Int) (*MicronoteFund, error) {
			return &MicronoteFund{
				FundsID:            100,
				BatchSlug:          batch.BatchSlug,
				MicrogonsRemaining: new(big.Int).Mul(centagons, big.NewInt(10_000)),
			}, nil
		},
	}
}

func TestReserveDebitsLocally(t *testing.T) {
	fund := &MicronoteFund{FundsID: 7, BatchSlug: "batch-1", MicrogonsRemaining: big.NewInt(1_000)}
	api := singleBatchAPI(fund)
	f := New(api, WithClock(func() time.Time { return testTime }))

	res, err := f.Reserve(context.Background(), big.NewInt(300))
	require.NoError(t, err)
	require.EqualValues(t, 7, res.FundsID)
	require.Equal(t, "batch-1", res.Batch.BatchSlug)
	require.EqualValues(t, 300, res.Microgons.Int64())
	require.EqualValues(t, 700, fund.MicrogonsRemaining.Int64())

	// second reservation reuses the tracked fund with no remote lookup
	_, err = f.Reserve(context.Background(), big.NewInt(700))
	require.NoError(t, err)
	require.Zero(t, fund.MicrogonsRemaining.Sign())
	require.Equal(t, 1, api.findCalls)
	require.Equal(t, 0, api.createCalls)
}

func TestReserveTracksFundWithZeroID(t *testing.T) {
	fund := &MicronoteFund{FundsID: 0, BatchSlug: "batch-1", MicrogonsRemaining: big.NewInt(1_000)}
	api := singleBatchAPI(fund)
	f := New(api, WithClock(func() time.Time { return testTime }))

	res, err := f.Reserve(context.Background(), big.NewInt(300))
	require.NoError(t, err)
	require.EqualValues(t, 0, res.FundsID)
	require.EqualValues(t, 700, fund.MicrogonsRemaining.Int64())

	// a fundsId of zero is a valid remote id, not "nothing tracked"
	_, err = f.Reserve(context.Background(), big.NewInt(200))
	require.NoError(t, err)
	require.Equal(t, 1, api.findCalls)
	require.Equal(t, 0, api.createCalls)
}

func TestConcurrentReservationsNeverDoubleAllocate(t *testing.T) {
	const callers = 20
	fund := &MicronoteFund{FundsID: 7, BatchSlug: "batch-1", MicrogonsRemaining: big.NewInt(callers * 50)}
	api := singleBatchAPI(fund)
	f := New(api, WithClock(func() time.Time { return testTime }))

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			res, err := f.Reserve(context.Background(), big.NewInt(50))
			if err != nil {
				return err
			}
			if res.Microgons.Int64() != 50 {
				return errors.Errorf("got %s microgons", res.Microgons)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// amounts summed to exactly the fund's balance: nothing double
	// allocated, nothing left over, and no refunding pass ran
	require.Zero(t, fund.MicrogonsRemaining.Sign())
	require.Equal(t, 0, api.createCalls)
}

func TestExhaustedFundTriggersSingleCreation(t *testing.T) {
	fund := &MicronoteFund{FundsID: 7, BatchSlug: "batch-1", MicrogonsRemaining: big.NewInt(100)}
	api := singleBatchAPI(fund)
	f := New(api, WithClock(func() time.Time { return testTime }))

	_, err := f.Reserve(context.Background(), big.NewInt(100))
	require.NoError(t, err)

	const callers = 5
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := f.Reserve(context.Background(), big.NewInt(40))
			return err
		})
	}
	require.NoError(t, g.Wait())

	// exactly one caller found the fund exhausted and created a new one;
	// the rest were served from it
	require.Equal(t, 1, api.createCalls)
}

func TestCreateFundSizesPreloadAboveBatchMinimum(t *testing.T) {
	var createdCentagons *big.Int
	api := &fakeAPI{
		batchesFn: func(int) ([]Batch, error) {
			return []Batch{openBatch("batch-1", 2*time.Hour)}, nil
		},
		createFn: func(_ int, batch Batch, centagons *big.Int) (*MicronoteFund, error) {
			createdCentagons = new(big.Int).Set(centagons)
			return &MicronoteFund{
				FundsID:            9,
				BatchSlug:          batch.BatchSlug,
				MicrogonsRemaining: new(big.Int).Mul(centagons, big.NewInt(10_000)),
			}, nil
		},
	}
	f := New(api, WithClock(func() time.Time { return testTime }))

	// 5000 microgons × 100 preload = 500,000 microgons = 50 centagons,
	// under the batch minimum of 100
	_, err := f.Reserve(context.Background(), big.NewInt(5_000))
	require.NoError(t, err)
	require.EqualValues(t, 100, createdCentagons.Int64())

	// a larger request outgrows the minimum: 50,000 × 100 = 500 centagons
	api2 := &fakeAPI{batchesFn: api.batchesFn, createFn: api.createFn}
	f2 := New(api2, WithClock(func() time.Time { return testTime }))
	_, err = f2.Reserve(context.Background(), big.NewInt(50_000))
	require.NoError(t, err)
	require.EqualValues(t, 500, createdCentagons.Int64())
}

func TestBatchRotationNearClose(t *testing.T) {
	now := testTime
	var nowMu sync.Mutex
	clock := func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()
		return now
	}

	api := &fakeAPI{
		batchesFn: func(int) ([]Batch, error) {
			return []Batch{
				openBatch("closing", 45*time.Minute),
				openBatch("fresh", 4*time.Hour),
			}, nil
		},
		createFn: func(_ int, batch Batch, centagons *big.Int) (*MicronoteFund, error) {
			return &MicronoteFund{
				FundsID:            uint64(len(batch.BatchSlug)),
				BatchSlug:          batch.BatchSlug,
				MicrogonsRemaining: new(big.Int).Mul(centagons, big.NewInt(10_000)),
			}, nil
		},
	}
	f := New(api, WithClock(clock), WithBatchListTTL(24*time.Hour))

	res, err := f.Reserve(context.Background(), big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, "closing", res.Batch.BatchSlug)

	// step to 20 seconds before the first batch stops accepting notes:
	// inside the 30 second safety margin, so it must be abandoned
	nowMu.Lock()
	now = testTime.Add(45*time.Minute - 20*time.Second)
	nowMu.Unlock()

	res, err = f.Reserve(context.Background(), big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, "fresh", res.Batch.BatchSlug)
}

func TestNoOpenBatchForcesFreshFetch(t *testing.T) {
	api := &fakeAPI{
		batchesFn: func(call int) ([]Batch, error) {
			if call == 1 {
				// everything closing too soon to adopt
				return []Batch{openBatch("stale", 10*time.Minute)}, nil
			}
			return []Batch{openBatch("fresh", 3*time.Hour)}, nil
		},
		createFn: func(_ int, batch Batch, centagons *big.Int) (*MicronoteFund, error) {
			return &MicronoteFund{
				FundsID:            3,
				BatchSlug:          batch.BatchSlug,
				MicrogonsRemaining: new(big.Int).Mul(centagons, big.NewInt(10_000)),
			}, nil
		},
	}
	f := New(api, WithClock(func() time.Time { return testTime }))

	res, err := f.Reserve(context.Background(), big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, "fresh", res.Batch.BatchSlug)
	require.Equal(t, 2, api.batchCalls)
}

func TestRetryableErrorsRetryWithBackoff(t *testing.T) {
	api := &fakeAPI{
		batchesFn: func(call int) ([]Batch, error) {
			if call <= 2 {
				return nil, tempErr("connection reset")
			}
			return []Batch{openBatch("batch-1", 2*time.Hour)}, nil
		},
		createFn: func(_ int, batch Batch, centagons *big.Int) (*MicronoteFund, error) {
			return &MicronoteFund{
				FundsID:            4,
				BatchSlug:          batch.BatchSlug,
				MicrogonsRemaining: new(big.Int).Mul(centagons, big.NewInt(10_000)),
			}, nil
		},
	}
	f := New(api, WithClock(func() time.Time { return testTime }), WithRetryBaseDelay(time.Millisecond))

	_, err := f.Reserve(context.Background(), big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, 3, api.batchCalls)
}

func TestFatalErrorPropagatesImmediately(t *testing.T) {
	fatal := errors.New("invalid signature")
	api := &fakeAPI{
		batchesFn: func(int) ([]Batch, error) { return nil, fatal },
	}
	f := New(api, WithClock(func() time.Time { return testTime }), WithRetryBaseDelay(time.Millisecond))

	_, err := f.Reserve(context.Background(), big.NewInt(100))
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, api.batchCalls)
}

func TestRetryBudgetExhausts(t *testing.T) {
	api := &fakeAPI{
		batchesFn: func(int) ([]Batch, error) { return nil, tempErr("bad gateway") },
	}
	f := New(api, WithClock(func() time.Time { return testTime }), WithRetryBaseDelay(time.Millisecond))

	_, err := f.Reserve(context.Background(), big.NewInt(100))
	require.Error(t, err)
	require.Equal(t, 5, api.batchCalls)
}

func TestFinalizePaymentRefundsUnusedPortion(t *testing.T) {
	fund := &MicronoteFund{FundsID: 7, BatchSlug: "batch-1", MicrogonsRemaining: big.NewInt(1_000)}
	api := singleBatchAPI(fund)
	f := New(api, WithClock(func() time.Time { return testTime }))

	res, err := f.Reserve(context.Background(), big.NewInt(400))
	require.NoError(t, err)
	require.EqualValues(t, 600, fund.MicrogonsRemaining.Int64())

	// metered cost came in lower than reserved
	require.NoError(t, f.FinalizePayment(res.Batch.BatchSlug, res.FundsID, res.Microgons, big.NewInt(150)))
	require.EqualValues(t, 850, fund.MicrogonsRemaining.Int64())

	// a cost above the reservation is never re-debited
	require.Error(t, f.FinalizePayment(res.Batch.BatchSlug, res.FundsID, res.Microgons, big.NewInt(500)))

	// unknown funds are ignored rather than invented
	require.NoError(t, f.FinalizePayment("other-batch", 99, big.NewInt(10), big.NewInt(5)))
}

func TestReserveRejectsNonPositiveAmounts(t *testing.T) {
	f := New(&fakeAPI{}, WithClock(func() time.Time { return testTime }))
	_, err := f.Reserve(context.Background(), big.NewInt(0))
	require.Error(t, err)
	_, err = f.Reserve(context.Background(), nil)
	require.Error(t, err)
}

func TestIsRetryableClassification(t *testing.T) {
	require.True(t, IsRetryable(tempErr("reset")))
	require.True(t, IsRetryable(errors.Wrap(tempErr("reset"), "fetching batches")))
	require.False(t, IsRetryable(errors.New("validation failed")))
	require.False(t, IsRetryable(context.Canceled))
}
