package sidechain

import (
	"context"
	"math/big"
	"net/http"
	"strconv"

	"github.com/meridianlabs/sidechain-client/pkg/arithenc"
)

// BlockSettings is the per-block ledger summary published by the
// sidechain. Totals travel in the compact arithmetic encoding.
type BlockSettings struct {
	BlockHeight        uint64            `json:"blockHeight"`
	TotalShares        arithenc.Encoding `json:"totalShares"`
	TotalStable        arithenc.Encoding `json:"totalStable"`
	CoinagePerCentagon arithenc.Encoding `json:"coinagePerCentagon"`
}

// TotalSharesAtHeight expands the encoded share supply, the denominator
// for shareholder coinage claims at this block.
func (s BlockSettings) TotalSharesAtHeight() *big.Int {
	return arithenc.Decode(s.TotalShares)
}

// TotalStableAtHeight expands the encoded stable-ledger supply.
func (s BlockSettings) TotalStableAtHeight() *big.Int {
	return arithenc.Decode(s.TotalStable)
}

// GetBlockSettings fetches the ledger summary for one block height.
func (c *Client) GetBlockSettings(ctx context.Context, blockHeight uint64) (*BlockSettings, error) {
	var settings BlockSettings
	err := c.do(ctx, http.MethodGet, "/block-settings/{height}", nil, &settings,
		pathParam{"height", strconv.FormatUint(blockHeight, 10)})
	if err != nil {
		return nil, err
	}
	return &settings, nil
}
