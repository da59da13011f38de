package models

type Token struct {
	ContractAddress string `json:"contractAddress"`
	Network         string `json:"network"`
	Symbol          string `json:"symbol,omitempty"`
	Name            string `json:"name,omitempty"`
}

type TokenAmount struct {
	Amount   string `json:"amount"`
	Decimals int    `json:"decimals"`
}

type TokenBalance struct {
	Token  Token       `json:"token"`
	Amount TokenAmount `json:"amount"`
}

type TokenBalancesResponse struct {
	Balances      []TokenBalance `json:"balances"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type FaucetRequest struct {
	Address string `json:"address"`
	Network string `json:"network"`
	Token   string `json:"token"`
}

type FaucetResponse struct {
	TransactionHash string `json:"transactionHash"`
}
