// Package sidechain is the authenticated HTTP client for the remote
// sidechain service: batch discovery with trust verification, fund
// settlement, and micronote creation.
package sidechain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/meridianlabs/sidechain-client/internal/core/funding"
	"github.com/meridianlabs/sidechain-client/internal/core/transaction"
)

const (
	defaultAttempts  = 5
	defaultBaseDelay = 200 * time.Millisecond
	defaultBatchTTL  = time.Minute

	batchCacheKey = "active"
)

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.cli = resty.NewWithClient(httpClient) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithRetryBaseDelay(delay time.Duration) Option {
	return func(c *Client) { c.baseDelay = delay }
}

func WithBatchCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.batchTTL = ttl }
}

// Client talks to one sidechain service on behalf of one identity. All
// mutating requests are signed with the identity's transfer key so the
// service can tie funds and micronotes to the wallet address.
type Client struct {
	cli      *resty.Client
	logger   *zap.Logger
	identity transaction.Signer

	attempts  int
	baseDelay time.Duration
	batchTTL  time.Duration

	batchCache *expirable.LRU[string, []funding.Batch]
	batchGroup singleflight.Group

	funding *funding.BatchFunding
}

var _ funding.FundAPI = (*Client)(nil)

func NewClient(baseURL string, identity transaction.Signer, opts ...Option) *Client {
	c := &Client{
		cli:       resty.New(),
		logger:    zap.NewNop(),
		identity:  identity,
		attempts:  defaultAttempts,
		baseDelay: defaultBaseDelay,
		batchTTL:  defaultBatchTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cli.SetBaseURL(baseURL)
	c.batchCache = expirable.NewLRU[string, []funding.Batch](1, nil, c.batchTTL)
	c.funding = funding.New(c,
		funding.WithLogger(c.logger),
		funding.WithRetryBaseDelay(c.baseDelay),
	)
	return c
}

// Funding exposes the reservation queue backed by this client.
func (c *Client) Funding() *funding.BatchFunding {
	return c.funding
}

// GetActiveBatches returns the service's open batches, every one of them
// signature-verified. A batch that fails verification poisons the whole
// response; nothing from an untrusted reply is cached or returned.
func (c *Client) GetActiveBatches(ctx context.Context) ([]funding.Batch, error) {
	v, err, _ := c.batchGroup.Do(batchCacheKey, func() (interface{}, error) {
		if cached, ok := c.batchCache.Get(batchCacheKey); ok {
			return cached, nil
		}

		var payload struct {
			Batches []funding.Batch `json:"batches"`
		}
		if err := c.do(ctx, http.MethodGet, "/micronote-batches/active", nil, &payload); err != nil {
			return nil, err
		}
		for _, batch := range payload.Batches {
			if err := VerifyBatch(batch); err != nil {
				return nil, errors.Wrapf(err, "rejecting batch list from %s", c.cli.BaseURL)
			}
		}

		c.batchCache.Add(batchCacheKey, payload.Batches)
		return payload.Batches, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]funding.Batch), nil
}

type findFundRequest struct {
	BatchSlug string   `json:"batchSlug"`
	Address   string   `json:"address"`
	Microgons *big.Int `json:"microgons"`
}

// FindFund looks up an existing fund in the batch with at least microgons
// of remaining balance. A miss is (nil, nil), not an error.
func (c *Client) FindFund(ctx context.Context, batch funding.Batch, microgons *big.Int) (*funding.MicronoteFund, error) {
	body := findFundRequest{
		BatchSlug: batch.BatchSlug,
		Address:   c.identity.Address(),
		Microgons: microgons,
	}
	var fund funding.MicronoteFund
	err := c.do(ctx, http.MethodPost, "/micronote-batch-funds/find", body, &fund)
	if IsCode(err, CodeFundNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fund, nil
}

type createFundRequest struct {
	BatchSlug string   `json:"batchSlug"`
	Address   string   `json:"address"`
	Centagons *big.Int `json:"centagons"`
}

// CreateFund settles centagons into the batch, opening a new fund.
func (c *Client) CreateFund(ctx context.Context, batch funding.Batch, centagons *big.Int) (*funding.MicronoteFund, error) {
	body := createFundRequest{
		BatchSlug: batch.BatchSlug,
		Address:   c.identity.Address(),
		Centagons: centagons,
	}
	var fund funding.MicronoteFund
	if err := c.do(ctx, http.MethodPost, "/micronote-batch-funds", body, &fund); err != nil {
		return nil, err
	}
	c.logger.Info("created micronote fund",
		zap.String("batchSlug", batch.BatchSlug),
		zap.Uint64("fundsId", fund.FundsID),
		zap.String("centagons", centagons.String()))
	return &fund, nil
}

type createMicronoteRequest struct {
	BatchSlug   string   `json:"batchSlug"`
	FundsID     uint64   `json:"fundsId"`
	Address     string   `json:"address"`
	Microgons   *big.Int `json:"microgons"`
	IsAuditable bool     `json:"isAuditable"`
}

// CreateMicronote reserves microgons from the active fund and asks the
// batch to issue a signed micronote for them. A closed or unknown batch
// invalidates local batch state and the whole flow restarts against a
// freshly derived batch. The returned note may be metered below the
// reservation; the difference is credited back to the fund.
func (c *Client) CreateMicronote(ctx context.Context, microgons *big.Int, isAuditable bool) (*Micronote, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		res, err := c.funding.Reserve(ctx, microgons)
		if err != nil {
			return nil, err
		}

		note, err := c.issueMicronote(ctx, res, isAuditable)
		if err == nil {
			return note, nil
		}
		lastErr = err

		if IsCode(err, CodeBatchClosed) || IsCode(err, CodeBatchNotFound) {
			c.logger.Warn("batch rejected micronote, rotating",
				zap.String("batchSlug", res.Batch.BatchSlug),
				zap.Error(err))
			c.invalidateBatches()
			continue
		}
		return nil, err
	}
	return nil, errors.Wrapf(lastErr, "micronote creation failed after %d attempts", c.attempts)
}

func (c *Client) issueMicronote(ctx context.Context, res *funding.Reservation, isAuditable bool) (*Micronote, error) {
	body := createMicronoteRequest{
		BatchSlug:   res.Batch.BatchSlug,
		FundsID:     res.FundsID,
		Address:     c.identity.Address(),
		Microgons:   res.Microgons,
		IsAuditable: isAuditable,
	}
	var note Micronote
	err := c.do(ctx, http.MethodPost, "/micronote-batches/{slug}/micronotes", body, &note,
		pathParam{"slug", res.Batch.BatchSlug})
	if err != nil {
		// The reservation bought nothing. Hand it back in full.
		if refundErr := c.funding.FinalizePayment(res.Batch.BatchSlug, res.FundsID, res.Microgons, big.NewInt(0)); refundErr != nil {
			c.logger.Warn("refund after failed micronote", zap.Error(refundErr))
		}
		return nil, err
	}

	if !transaction.VerifySignature(res.Batch.MicronoteBatchPublicKey, note.Hash(), note.Signature) {
		c.invalidateBatches()
		if refundErr := c.funding.FinalizePayment(res.Batch.BatchSlug, res.FundsID, res.Microgons, big.NewInt(0)); refundErr != nil {
			c.logger.Warn("refund after unverifiable micronote", zap.Error(refundErr))
		}
		return nil, &InvalidSignatureError{Subject: "micronote from batch " + res.Batch.BatchSlug}
	}

	if note.Microgons != nil && note.Microgons.Cmp(res.Microgons) < 0 {
		if err := c.funding.FinalizePayment(res.Batch.BatchSlug, res.FundsID, res.Microgons, note.Microgons); err != nil {
			c.logger.Warn("crediting metered micronote", zap.Error(err))
		}
	}
	return &note, nil
}

// AddressBalance is the remote ledger's settled view of one address.
type AddressBalance struct {
	Address          string   `json:"address"`
	SharesCentagons  *big.Int `json:"sharesCentagons"`
	StableCentagons  *big.Int `json:"stableCentagons"`
	SettledToHeight  uint64   `json:"settledToHeight"`
	PendingCentagons *big.Int `json:"pendingCentagons"`
}

// GetBalance queries the remote ledger for the identity's settled balance.
func (c *Client) GetBalance(ctx context.Context) (*AddressBalance, error) {
	var balance AddressBalance
	err := c.do(ctx, http.MethodGet, "/addresses/{address}/balance", nil, &balance,
		pathParam{"address", c.identity.Address()})
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// GetSettlement asks whether the remote ledger has settled a transaction.
func (c *Client) GetSettlement(ctx context.Context, txHash chainhash.Hash) (*Settlement, error) {
	var settlement Settlement
	err := c.do(ctx, http.MethodGet, "/transactions/{hash}/settlement", nil, &settlement,
		pathParam{"hash", txHash.String()})
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

// Settlement reports a transaction's position on the remote ledger.
type Settlement struct {
	TransactionHash chainhash.Hash `json:"transactionHash"`
	BlockHeight     uint64         `json:"blockHeight"`
	BlockHash       chainhash.Hash `json:"blockHash"`
	IsSettled       bool           `json:"isSettled"`
}

func (c *Client) invalidateBatches() {
	c.batchCache.Remove(batchCacheKey)
	c.funding.InvalidateBatches()
}

type pathParam struct {
	name  string
	value string
}

// do issues one request with bounded retry. Only errors classified as
// temporary (transport failures, codeless 502/503) are retried; coded
// rejections surface immediately.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, params ...pathParam) error {
	delay := c.baseDelay
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		err := c.doOnce(ctx, method, path, body, out, params)
		if err == nil {
			return nil
		}
		lastErr = err
		if !funding.IsRetryable(err) {
			return err
		}
		c.logger.Debug("retrying sidechain request",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return errors.Wrapf(lastErr, "%s %s failed after %d attempts", method, path, c.attempts)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out interface{}, params []pathParam) error {
	req := c.cli.R().SetContext(ctx)
	for _, p := range params {
		req.SetPathParam(p.name, p.value)
	}
	if out != nil {
		req.SetResult(out)
	}

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request")
		}
		bundle, err := c.identity.Sign(chainhash.DoubleHashH(payload), transaction.KeySetTransfer)
		if err != nil {
			return errors.Wrap(err, "signing request")
		}
		req.SetHeader("Content-Type", "application/json").
			SetHeader("x-address", c.identity.Address()).
			SetHeader("x-public-key", hex.EncodeToString(bundle.Signers[0].PublicKey)).
			SetHeader("x-signature", hex.EncodeToString(bundle.Signers[0].Signature)).
			SetBody(payload)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return &transportError{err: err}
	}
	if resp.IsError() {
		apiErr := &APIError{StatusCode: resp.StatusCode()}
		if unmarshalErr := json.Unmarshal(resp.Body(), apiErr); unmarshalErr != nil {
			apiErr.Message = string(resp.Body())
		}
		return apiErr
	}
	return nil
}
