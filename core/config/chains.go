package config

import "github.com/ethereum/go-ethereum/common"

// DefaultEntryPointAddress is the canonical entry point deployment shared by
// the registered mainnet-style chains. A chain section may override it.
var DefaultEntryPointAddress = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

// ChainDefaults are the well-known parameters of a supported chain, applied
// wherever a chain section leaves them out.
type ChainDefaults struct {
	Name          string
	Confirmations uint64
	EntryPoint    common.Address
}

var knownChains = map[uint64]ChainDefaults{
	1:     {Name: "ethereum", Confirmations: 12, EntryPoint: DefaultEntryPointAddress},
	137:   {Name: "polygon", Confirmations: 256, EntryPoint: DefaultEntryPointAddress},
	42161: {Name: "arbitrum", Confirmations: 64, EntryPoint: DefaultEntryPointAddress},
}

// LookupChainDefaults returns the registry entry for a chain id.
func LookupChainDefaults(id uint64) (ChainDefaults, bool) {
	d, ok := knownChains[id]
	return d, ok
}
