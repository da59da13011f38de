package payment

import (
	"math/big"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianpay/x402-wallet/internal/errs"
	"github.com/meridianpay/x402-wallet/internal/models"
)

func TestChainID(t *testing.T) {
	tests := map[string]int64{
		"base":             8453,
		"base-sepolia":     84532,
		"ethereum":         1,
		"ethereum-sepolia": 11155111,
		"polygon":          137,
		"polygon-amoy":     80002,
	}

	for network, want := range tests {
		got, err := ChainID(network)
		require.NoError(t, err, network)
		assert.Equal(t, want, got, network)
	}
}

func TestChainID_UnsupportedNetwork(t *testing.T) {
	_, err := ChainID("dogecoin")
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestNewAuthorization(t *testing.T) {
	from := "0x1111111111111111111111111111111111111111"
	to := "0x2222222222222222222222222222222222222222"

	auth, err := newAuthorization(from, to, "10000")
	require.NoError(t, err)

	assert.Equal(t, from, auth.From)
	assert.Equal(t, to, auth.To)
	assert.Equal(t, "10000", auth.Value)
	assert.Equal(t, "0", auth.ValidAfter)

	deadline, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	require.NoError(t, err)
	now := time.Now().Unix()
	assert.Greater(t, deadline, now)
	assert.LessOrEqual(t, deadline, now+int64(authorizationWindow.Seconds())+1)

	nonce, err := hexutil.Decode(auth.Nonce)
	require.NoError(t, err)
	assert.Len(t, nonce, 32)
}

func TestNewAuthorization_NoncesAreUnique(t *testing.T) {
	first, err := newAuthorization("0xa", "0xb", "1")
	require.NoError(t, err)
	second, err := newAuthorization("0xa", "0xb", "1")
	require.NoError(t, err)

	assert.NotEqual(t, first.Nonce, second.Nonce)
}

func TestTypedDataFor(t *testing.T) {
	requirements := &models.PaymentRequirements{
		Scheme:            "exact",
		Network:           "base-sepolia",
		MaxAmountRequired: "10000",
		PayTo:             "0x2222222222222222222222222222222222222222",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}
	auth, err := newAuthorization("0x1111111111111111111111111111111111111111", requirements.PayTo, "10000")
	require.NoError(t, err)

	typedData, err := typedDataFor(requirements, auth)
	require.NoError(t, err)

	assert.Equal(t, "TransferWithAuthorization", typedData.PrimaryType)
	assert.Equal(t, "USDC", typedData.Domain.Name)
	assert.Equal(t, "2", typedData.Domain.Version)
	assert.Equal(t, requirements.Asset, typedData.Domain.VerifyingContract)
	assert.Equal(t, big.NewInt(84532), (*big.Int)(typedData.Domain.ChainId))

	// The domain type itself stays out of Types; the signing adapter injects
	// the canonical definition before the request goes to the service.
	_, hasDomainType := typedData.Types["EIP712Domain"]
	assert.False(t, hasDomainType)

	fields := typedData.Types["TransferWithAuthorization"]
	require.Len(t, fields, 6)
	assert.Equal(t, auth.Nonce, typedData.Message["nonce"])
	assert.Equal(t, auth.ValidBefore, typedData.Message["validBefore"])
}

func TestTypedDataFor_DomainFromExtra(t *testing.T) {
	requirements := &models.PaymentRequirements{
		Network: "base",
		Asset:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Extra: map[string]interface{}{
			"name":    "EURC",
			"version": "1",
		},
	}
	auth, err := newAuthorization("0xa", "0xb", "1")
	require.NoError(t, err)

	typedData, err := typedDataFor(requirements, auth)
	require.NoError(t, err)
	assert.Equal(t, "EURC", typedData.Domain.Name)
	assert.Equal(t, "1", typedData.Domain.Version)
}

func TestTypedDataFor_UnsupportedNetwork(t *testing.T) {
	requirements := &models.PaymentRequirements{Network: "unknown-net"}

	_, err := typedDataFor(requirements, models.EvmAuthorization{})
	require.Error(t, err)
}
