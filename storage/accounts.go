package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"lendmesh/core/types"
	"lendmesh/crypto"
)

// accountKeyPrefix namespaces account rows inside the shared key space.
const accountKeyPrefix = "acct/"

// AccountStore persists the account ledger the vault and position engines
// read and write. Missing accounts materialize as empty, never as errors.
type AccountStore struct {
	db Database
}

func NewAccountStore(db Database) *AccountStore {
	return &AccountStore{db: db}
}

func accountKey(addr crypto.Address) []byte {
	// The bech32 form carries the prefix, so account and module addresses
	// with equal bytes stay distinct rows.
	return []byte(accountKeyPrefix + addr.String())
}

// GetAccount loads the account, returning a fresh empty account for unknown
// addresses.
func (s *AccountStore) GetAccount(addr crypto.Address) (*types.Account, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage: account store not configured")
	}
	raw, err := s.db.Get(accountKey(addr))
	if errors.Is(err, ErrKeyNotFound) {
		return &types.Account{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load account %s: %w", addr, err)
	}
	account := new(types.Account)
	if err := json.Unmarshal(raw, account); err != nil {
		return nil, fmt.Errorf("storage: decode account %s: %w", addr, err)
	}
	return account, nil
}

// PutAccount writes the account back.
func (s *AccountStore) PutAccount(addr crypto.Address, account *types.Account) error {
	if s == nil || s.db == nil {
		return errors.New("storage: account store not configured")
	}
	if account == nil {
		account = &types.Account{}
	}
	raw, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("storage: encode account %s: %w", addr, err)
	}
	return s.db.Put(accountKey(addr), raw)
}
