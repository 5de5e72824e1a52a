package ipc

// Method names exposed by coffred. Only the liveness and shutdown surface is
// required by the orchestrator; vault listings feed the front-end views.
const (
	MethodGetInfo    = "getinfo"
	MethodListVaults = "listvaults"
	MethodStop       = "stop"
)

// GetInfoResponse reports daemon identity and chain progress.
type GetInfoResponse struct {
	Blockheight int64   `json:"blockheight"`
	Network     string  `json:"network"`
	Sync        float64 `json:"sync"`
	Version     string  `json:"version"`
	PID         int     `json:"pid"`
}

// VaultStatus is the daemon-reported lifecycle stage of a vault.
type VaultStatus string

const (
	VaultFunded     VaultStatus = "funded"
	VaultSecured    VaultStatus = "secured"
	VaultActive     VaultStatus = "active"
	VaultUnvaulting VaultStatus = "unvaulting"
	VaultUnvaulted  VaultStatus = "unvaulted"
	VaultCanceling  VaultStatus = "canceling"
	VaultCanceled   VaultStatus = "canceled"
	VaultSpendable  VaultStatus = "spendable"
	VaultSpending   VaultStatus = "spending"
	VaultSpent      VaultStatus = "spent"
)

// Vault summarizes one deposit tracked by the daemon.
type Vault struct {
	Amount uint64      `json:"amount"`
	Status VaultStatus `json:"status"`
	Txid   string      `json:"txid"`
	Vout   uint32      `json:"vout"`
}

// ListVaultsResponse contains the daemon's vault summaries.
type ListVaultsResponse struct {
	Vaults []Vault `json:"vaults"`
}

// StopResponse acknowledges a graceful shutdown request.
type StopResponse struct {
	Stopping bool `json:"stopping"`
}
