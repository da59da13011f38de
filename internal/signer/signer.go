package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/meridianpay/x402-wallet/internal/custodial"
	"github.com/meridianpay/x402-wallet/internal/errs"
	"github.com/meridianpay/x402-wallet/internal/logger"
)

// MaxMessageBytes bounds the size of a message forwarded to the signing
// service.
const MaxMessageBytes = 8 * 1024

// DefaultTimeout bounds a typed-data signing call. Payment authorization
// depends on this path, so the ceiling is enforced here rather than left to
// the caller.
const DefaultTimeout = 30 * time.Second

// Account presents a custodial account through the local signing contract
// expected by payment tooling: an address plus sign-message, sign-typed-data,
// sign-transaction and sign-hash operations. It holds no mutable state; every
// operation is one call against the remote service. Signing calls are never
// retried, a repeated signature over a different nonce could authorize a
// payment twice.
type Account struct {
	address string
	client  *custodial.Client
	timeout time.Duration
}

// NewAccount creates a signing account for the given address. A zero timeout
// falls back to DefaultTimeout.
func NewAccount(address string, client *custodial.Client, timeout time.Duration) *Account {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Account{
		address: address,
		client:  client,
		timeout: timeout,
	}
}

// Address returns the account's chain address.
func (a *Account) Address() common.Address {
	return common.HexToAddress(a.address)
}

// AddressHex returns the account's address in its original hex form.
func (a *Account) AddressHex() string {
	return a.address
}

// SignMessage signs a plain string message.
func (a *Account) SignMessage(ctx context.Context, message string) (string, error) {
	if message == "" {
		return "", errs.Validation("message cannot be empty")
	}
	if len(message) > MaxMessageBytes {
		return "", errs.Validation("message exceeds %d bytes", MaxMessageBytes)
	}

	raw, err := a.client.SignMessage(ctx, a.address, message)
	if err != nil {
		return "", errs.Signing("remote message signing failed", err)
	}

	return extractSignature(raw)
}

// SignMessageBytes signs a byte-carrying message after normalizing it to a
// string.
func (a *Account) SignMessageBytes(ctx context.Context, message []byte) (string, error) {
	return a.SignMessage(ctx, string(message))
}

// SignTypedData signs EIP-712 structured data under a bounded timeout. The
// canonical EIP712Domain type is injected when the caller omitted it, the
// service requires it to be explicit even when implied.
func (a *Account) SignTypedData(ctx context.Context, typedData apitypes.TypedData) (string, error) {
	if err := validateTypedData(typedData); err != nil {
		return "", err
	}

	typedData = withDomainType(typedData)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.client.SignTypedData(ctx, a.address, typedData)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", errs.SigningTimeout(fmt.Sprintf("typed-data signing exceeded %s", a.timeout), err)
		}
		return "", errs.Signing("remote typed-data signing failed", err)
	}

	return extractSignature(raw)
}

// SignTransaction signs a transaction field map. The service exposes no raw
// transaction signing primitive, so the fields are serialized
// deterministically and signed as a message.
func (a *Account) SignTransaction(ctx context.Context, txFields map[string]interface{}) (string, error) {
	if len(txFields) == 0 {
		return "", errs.Validation("transaction fields cannot be empty")
	}

	// encoding/json writes map keys in sorted order, which makes the
	// serialization deterministic.
	serialized, err := json.Marshal(txFields)
	if err != nil {
		return "", errs.Validation("transaction fields are not serializable: %v", err)
	}

	logger.Debug("Signing transaction via message fallback (%d bytes)", len(serialized))
	return a.SignMessage(ctx, string(serialized))
}

// SignHash signs a 32-byte hash given in canonical 0x-prefixed hex form.
func (a *Account) SignHash(ctx context.Context, hash string) (string, error) {
	if err := validateHash(hash); err != nil {
		return "", err
	}

	return a.SignMessage(ctx, hash)
}

func validateHash(hash string) error {
	if !strings.HasPrefix(hash, "0x") {
		return errs.Validation("hash must be 0x-prefixed")
	}
	if len(hash) != 66 {
		return errs.Validation("hash must be exactly 32 bytes, got %d hex chars", len(hash)-2)
	}
	if _, err := hexutil.Decode(hash); err != nil {
		return errs.Validation("hash is not valid hex: %v", err)
	}
	return nil
}

func validateTypedData(typedData apitypes.TypedData) error {
	if typedData.PrimaryType == "" {
		return errs.Validation("typed data is missing primaryType")
	}
	if len(typedData.Types) == 0 {
		return errs.Validation("typed data is missing types")
	}
	if _, ok := typedData.Types[typedData.PrimaryType]; !ok {
		return errs.Validation("types do not define primary type %q", typedData.PrimaryType)
	}
	if typedData.Message == nil {
		return errs.Validation("typed data is missing message")
	}
	if isEmptyDomain(typedData.Domain) {
		return errs.Validation("typed data is missing domain")
	}
	return nil
}

func isEmptyDomain(domain apitypes.TypedDataDomain) bool {
	return domain.Name == "" &&
		domain.Version == "" &&
		domain.ChainId == nil &&
		domain.VerifyingContract == "" &&
		len(domain.Salt) == 0
}

// withDomainType returns a copy of the typed data whose Types map contains
// the canonical four-field EIP712Domain definition when it was absent.
func withDomainType(typedData apitypes.TypedData) apitypes.TypedData {
	if _, ok := typedData.Types["EIP712Domain"]; ok {
		return typedData
	}

	types := make(apitypes.Types, len(typedData.Types)+1)
	for name, fields := range typedData.Types {
		types[name] = fields
	}
	types["EIP712Domain"] = []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}

	typedData.Types = types
	return typedData
}
