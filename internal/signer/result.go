package signer

import (
	"encoding/json"
	"strings"

	"github.com/meridianpay/x402-wallet/internal/errs"
)

// The signing service answers with one of two shapes: a bare JSON string
// carrying the signature, or an object with a "signature" field. Responses
// are parsed into an explicit variant before extraction instead of probing
// types at the call site.

type resultKind int

const (
	stringResult resultKind = iota
	objectResult
)

type signResult struct {
	kind      resultKind
	signature string
}

type objectShape struct {
	Signature string `json:"signature"`
}

func parseSignResult(raw json.RawMessage) (signResult, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return signResult{}, errs.Signing("signing service returned an empty response", nil)
	}

	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return signResult{}, errs.Signing("signing service returned a malformed string result", err)
		}
		return signResult{kind: stringResult, signature: s}, nil
	}

	var obj objectShape
	if err := json.Unmarshal(raw, &obj); err != nil {
		return signResult{}, errs.Signing("signing service returned an unparseable result", err)
	}
	return signResult{kind: objectResult, signature: obj.Signature}, nil
}

// extractSignature normalizes a raw signing response into a canonical
// 0x-prefixed signature.
func extractSignature(raw json.RawMessage) (string, error) {
	result, err := parseSignResult(raw)
	if err != nil {
		return "", err
	}

	if result.signature == "" {
		return "", errs.Signing("signing service response carried no signature", nil)
	}

	if !strings.HasPrefix(result.signature, "0x") {
		return "0x" + result.signature, nil
	}
	return result.signature, nil
}
