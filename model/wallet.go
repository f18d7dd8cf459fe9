package model

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Wallet is the persisted configuration of a deployed account: who owns it,
// where it lives, and which factory/salt pair produced the address.
type Wallet struct {
	Owner   common.Address `json:"owner"`
	Address common.Address `json:"address"`
	Factory common.Address `json:"factory"`
	Salt    *big.Int       `json:"salt"`
}

func (w *Wallet) ToJSON() ([]byte, error) {
	return json.Marshal(w)
}

func (w *Wallet) FromStorageData(body []byte) error {
	return json.Unmarshal(body, w)
}

// StorageKey is the badger key a wallet config is stored under, namespaced by
// owner so all wallets of one owner share a prefix.
func (w *Wallet) StorageKey() []byte {
	return WalletStorageKey(w.Owner, w.Address)
}

func WalletStorageKey(owner, address common.Address) []byte {
	key := "w:" + owner.Hex() + ":" + address.Hex()
	return []byte(key)
}

func WalletByOwnerPrefix(owner common.Address) []byte {
	return []byte("w:" + owner.Hex() + ":")
}
