package models

// Account is the one signing identity used for a wallet session. The address
// is fixed at creation time; the custodial service owns the key material.
type Account struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type CreateAccountRequest struct {
	Name string `json:"name"`
}

// AccountRecord is the persisted form of an account inside a WalletSnapshot.
type AccountRecord struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// WalletSnapshot is the durable record of a wallet identity, written after
// account creation and read back at startup to recover the same named account.
type WalletSnapshot struct {
	ID             string          `json:"id"`
	DefaultAddress string          `json:"defaultAddress"`
	Addresses      []string        `json:"addresses"`
	Accounts       []AccountRecord `json:"accounts"`
}
