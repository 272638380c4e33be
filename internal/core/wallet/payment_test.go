package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/mimblenet/walletcore/pkg/mwcrypto"
)

func TestPaymentConfirmation(t *testing.T) {
	sk := mwcrypto.RandomScalar()
	receiver := WalletIDFromPoint(sk.MulG())
	var sender WalletID
	sender[0] = 0x02

	pc := PaymentConfirmation{
		KernelID: chainhash.HashH([]byte("kernel")),
		Value:    42,
		Sender:   sender,
	}
	pc.Sign(sk)
	require.True(t, pc.IsValid(receiver))

	tampered := pc
	tampered.Value = 43
	require.False(t, tampered.IsValid(receiver))

	tampered = pc
	tampered.KernelID = chainhash.HashH([]byte("other kernel"))
	require.False(t, tampered.IsValid(receiver))

	wrongReceiver := WalletIDFromPoint(mwcrypto.RandomScalar().MulG())
	require.False(t, pc.IsValid(wrongReceiver))
}
