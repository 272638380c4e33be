package node

import (
	"encoding/hex"

	"github.com/mimblenet/walletcore/internal/core/wallet"
)

// Wire form of a transaction as the node's REST API takes it: commitments and
// scalars as hex strings.

type wireInput struct {
	Commitment string `json:"commitment"`
}

type wireOutput struct {
	Commitment string `json:"commitment"`
	Proof      string `json:"proof,omitempty"`
}

type wireKernel struct {
	Fee        uint64 `json:"fee"`
	MinHeight  uint64 `json:"min_height"`
	MaxHeight  uint64 `json:"max_height"`
	Commitment string `json:"commitment"`
	NoncePub   string `json:"nonce_pub"`
	Signature  string `json:"signature"`
}

type wireTx struct {
	Inputs  []wireInput  `json:"inputs"`
	Outputs []wireOutput `json:"outputs"`
	Kernels []wireKernel `json:"kernels"`
	Offset  string       `json:"offset"`
}

func txToWire(tx wallet.Transaction) wireTx {
	offset := tx.Offset.Bytes()
	w := wireTx{
		Inputs:  make([]wireInput, 0, len(tx.Inputs)),
		Outputs: make([]wireOutput, 0, len(tx.Outputs)),
		Kernels: make([]wireKernel, 0, len(tx.Kernels)),
		Offset:  hex.EncodeToString(offset[:]),
	}
	for _, in := range tx.Inputs {
		w.Inputs = append(w.Inputs, wireInput{
			Commitment: hex.EncodeToString(in.Commitment.Bytes()),
		})
	}
	for _, out := range tx.Outputs {
		w.Outputs = append(w.Outputs, wireOutput{
			Commitment: hex.EncodeToString(out.Commitment.Bytes()),
			Proof:      hex.EncodeToString(out.Proof),
		})
	}
	for _, k := range tx.Kernels {
		sig := k.Signature.K.Bytes()
		w.Kernels = append(w.Kernels, wireKernel{
			Fee:        uint64(k.Fee),
			MinHeight:  uint64(k.MinHeight),
			MaxHeight:  uint64(k.MaxHeight),
			Commitment: hex.EncodeToString(k.Commitment.Bytes()),
			NoncePub:   hex.EncodeToString(k.Signature.NoncePub.Bytes()),
			Signature:  hex.EncodeToString(sig[:]),
		})
	}
	return w
}
