package payment

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/meridianpay/x402-wallet/internal/errs"
	"github.com/meridianpay/x402-wallet/internal/models"
)

// authorizationWindow is how long a signed transfer authorization stays
// valid.
const authorizationWindow = 60 * time.Second

// chainIDs maps the network identifiers used by the payment protocol to EVM
// chain IDs.
var chainIDs = map[string]int64{
	"base":             8453,
	"base-sepolia":     84532,
	"ethereum":         1,
	"ethereum-sepolia": 11155111,
	"polygon":          137,
	"polygon-amoy":     80002,
}

// ChainID resolves a network identifier to its EVM chain ID.
func ChainID(network string) (int64, error) {
	id, ok := chainIDs[network]
	if !ok {
		return 0, errs.Validation("unsupported network %q", network)
	}
	return id, nil
}

// newNonce generates a cryptographically random 32-byte nonce in hex form.
func newNonce() (string, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hexutil.Encode(nonce[:]), nil
}

// newAuthorization builds the EIP-3009 transfer authorization message.
// validAfter is pinned to zero so the authorization is usable immediately and
// clock skew between client and settlement cannot race it.
func newAuthorization(from, to, value string) (models.EvmAuthorization, error) {
	nonce, err := newNonce()
	if err != nil {
		return models.EvmAuthorization{}, err
	}

	deadline := time.Now().Add(authorizationWindow).Unix()

	return models.EvmAuthorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  "0",
		ValidBefore: fmt.Sprintf("%d", deadline),
		Nonce:       nonce,
	}, nil
}

// typedDataFor shapes an authorization into the EIP-712 structure the token
// contract verifies. Domain name and version come from the server's payment
// requirements when present, falling back to the USDC conventions.
func typedDataFor(requirements *models.PaymentRequirements, auth models.EvmAuthorization) (apitypes.TypedData, error) {
	chainID, err := ChainID(requirements.Network)
	if err != nil {
		return apitypes.TypedData{}, err
	}

	name, version := "USDC", "2"
	if requirements.Extra != nil {
		if n, ok := requirements.Extra["name"].(string); ok && n != "" {
			name = n
		}
		if v, ok := requirements.Extra["version"].(string); ok && v != "" {
			version = v
		}
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(chainID)),
			VerifyingContract: requirements.Asset,
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}, nil
}
