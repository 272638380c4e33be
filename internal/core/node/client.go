// Package node talks to the trusted node: a REST API for chain queries and
// transaction registration, plus a ZeroMQ feed of tip changes.
package node

import (
	"context"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/darwayne/errutil"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mimblenet/walletcore/internal/core/wallet"
)

type ClientOpts struct {
	HTTPClient *http.Client
	Timeout    time.Duration
}

type Client struct {
	cli *resty.Client
	log *zap.Logger
}

func NewClient(baseURL string, log *zap.Logger, opts ...func(*ClientOpts)) *Client {
	var options ClientOpts
	for _, o := range opts {
		o(&options)
	}

	cli := resty.New()
	if options.HTTPClient != nil {
		cli = resty.NewWithClient(options.HTTPClient)
	}
	if options.Timeout > 0 {
		cli.SetTimeout(options.Timeout)
	} else {
		cli.SetTimeout(30 * time.Second)
	}
	cli.SetBaseURL(baseURL)

	return &Client{cli: cli, log: log.Named("node")}
}

type tipResponse struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// GetTip returns the node's current chain tip.
func (c *Client) GetTip(ctx context.Context) (wallet.BlockStateID, error) {
	var tip tipResponse
	res, err := c.cli.R().
		SetContext(ctx).
		SetResult(&tip).
		Get("/tip")
	if err != nil {
		return wallet.BlockStateID{}, errors.Wrap(err, "get tip")
	}
	if res.StatusCode() != http.StatusOK {
		return wallet.BlockStateID{}, errors.Errorf("get tip: unexpected status code: %d", res.StatusCode())
	}
	return blockStateFromWire(tip)
}

// ConfirmKernel asks the node for the height at which a kernel was included.
// Returns a NotFound error while the kernel is still unconfirmed.
func (c *Client) ConfirmKernel(ctx context.Context, kernelID chainhash.Hash) (wallet.Height, error) {
	var out struct {
		Height uint64 `json:"height"`
	}
	res, err := c.cli.R().
		SetContext(ctx).
		SetPathParam("id", hex.EncodeToString(kernelID[:])).
		SetResult(&out).
		Get("/kernel/{id}")
	if err != nil {
		return 0, errors.Wrap(err, "confirm kernel")
	}
	switch res.StatusCode() {
	case http.StatusOK:
		return wallet.Height(out.Height), nil
	case http.StatusNotFound:
		return 0, errutil.NewNotFound("kernel not confirmed")
	default:
		return 0, errors.Errorf("confirm kernel: unexpected status code: %d", res.StatusCode())
	}
}

// RegisterTransaction submits a finalized transaction to the node mempool.
// The returned flag reports whether the node took it.
func (c *Client) RegisterTransaction(ctx context.Context, tx wallet.Transaction) (bool, error) {
	payload := txToWire(tx)
	res, err := c.cli.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/tx")
	if err != nil {
		return false, errors.Wrap(err, "register transaction")
	}
	switch res.StatusCode() {
	case http.StatusOK, http.StatusAccepted:
		return true, nil
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		c.log.Warn("node rejected transaction",
			zap.Int("status", res.StatusCode()), zap.ByteString("body", res.Body()))
		return false, nil
	default:
		return false, errors.Errorf("register transaction: unexpected status code: %d", res.StatusCode())
	}
}

func blockStateFromWire(tip tipResponse) (wallet.BlockStateID, error) {
	raw, err := hex.DecodeString(tip.Hash)
	if err != nil || len(raw) != chainhash.HashSize {
		return wallet.BlockStateID{}, errors.Errorf("malformed tip hash %q", tip.Hash)
	}
	var id wallet.BlockStateID
	copy(id.Hash[:], raw)
	id.Height = wallet.Height(tip.Height)
	return id, nil
}
