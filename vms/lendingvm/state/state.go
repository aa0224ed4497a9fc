// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state persists the lending ledger over a luxfi database. A State
// is the working copy of one call: records are loaded on first use, mutated
// in place and written back together by Write.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
	"github.com/luxfi/lendingvm/vms/lendingvm/margin"
)

var (
	ErrStateCorrupted = errors.New("state corrupted")

	_ lending.Store = (*State)(nil)
	_ margin.Store  = (*State)(nil)

	// Database prefixes
	prefixAsset     = []byte("asset")
	prefixPrincipal = []byte("principal")
	prefixPosition  = []byte("position")
	prefixTransfer  = []byte("transfer")
	prefixUnwind    = []byte("unwind")
	prefixMargin    = []byte("margin")
	prefixSwap      = []byte("swap")
	prefixStop      = []byte("stop")
	prefixMeta      = []byte("meta")

	keyNonce = []byte("nonce")
)

// principalRecord is the persisted form of a principal. Isolated positions
// live in their own records.
type principalRecord struct {
	*lending.Principal
	Regular *lending.RegularPosition `json:"regular,omitempty"`
}

// State implements lending.Store and margin.Store.
type State struct {
	positionDB database.Database
	metaDB     database.Database

	assets     *records[ledger.AssetID, *ledger.Asset]
	principals *records[ids.ShortID, *principalRecord]
	transfers  *records[ids.ID, *lending.TransferIntent]
	unwinds    *records[ids.ID, *lending.UnwindIntent]
	accounts   *records[ids.ShortID, *margin.Account]
	swaps      *records[ids.ID, *margin.SwapIntent]
	stops      *records[ids.ID, *margin.StopOrder]

	// isolated position names found on disk per principal
	storedPositions map[ids.ShortID]set.Set[string]

	nonce       uint64
	nonceLoaded bool
}

func shortKey(id ids.ShortID) []byte {
	return id[:]
}

func idKey(id ids.ID) []byte {
	return id[:]
}

func assetKey(id ledger.AssetID) []byte {
	return []byte(id)
}

// New returns a working copy over db. Nothing is written until Write.
func New(db database.Database) *State {
	return &State{
		positionDB:      prefixdb.New(prefixPosition, db),
		metaDB:          prefixdb.New(prefixMeta, db),
		assets:          newRecords[ledger.AssetID, *ledger.Asset](prefixdb.New(prefixAsset, db), assetKey),
		principals:      newRecords[ids.ShortID, *principalRecord](prefixdb.New(prefixPrincipal, db), shortKey),
		transfers:       newRecords[ids.ID, *lending.TransferIntent](prefixdb.New(prefixTransfer, db), idKey),
		unwinds:         newRecords[ids.ID, *lending.UnwindIntent](prefixdb.New(prefixUnwind, db), idKey),
		accounts:        newRecords[ids.ShortID, *margin.Account](prefixdb.New(prefixMargin, db), shortKey),
		swaps:           newRecords[ids.ID, *margin.SwapIntent](prefixdb.New(prefixSwap, db), idKey),
		stops:           newRecords[ids.ID, *margin.StopOrder](prefixdb.New(prefixStop, db), idKey),
		storedPositions: make(map[ids.ShortID]set.Set[string]),
	}
}

func (s *State) GetAsset(id ledger.AssetID) (*ledger.Asset, error) {
	asset, ok, err := s.assets.get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", lending.ErrAssetNotFound, id)
	}
	asset.Migrate()
	return asset, nil
}

func (s *State) AddAsset(asset *ledger.Asset) error {
	_, ok, err := s.assets.get(asset.ID)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", lending.ErrAssetExists, asset.ID)
	}
	s.assets.put(asset.ID, asset)
	return nil
}

// AssetIDs returns every registered asset in lexical order.
func (s *State) AssetIDs() ([]ledger.AssetID, error) {
	assets, err := s.assets.all(func(k []byte) (ledger.AssetID, error) {
		return ledger.AssetID(k), nil
	})
	if err != nil {
		return nil, err
	}
	assetIDs := make([]ledger.AssetID, len(assets))
	for i, asset := range assets {
		assetIDs[i] = asset.ID
	}
	sort.Slice(assetIDs, func(i, j int) bool { return assetIDs[i] < assetIDs[j] })
	return assetIDs, nil
}

func (s *State) GetPrincipal(id ids.ShortID) (*lending.Principal, error) {
	if record, ok := s.principals.cache[id]; ok {
		return record.Principal, nil
	}

	principal := lending.NewPrincipal(id)
	record := &principalRecord{Principal: principal}
	stored, err := s.loadPrincipal(id, record)
	if err != nil {
		return nil, err
	}
	principal = record.Principal
	if principal.Supplied == nil {
		principal.Supplied = make(map[ledger.AssetID]*big.Int)
	}
	if principal.Positions == nil {
		principal.Positions = make(map[string]lending.Position)
	}
	principal.Migrate()
	if record.Regular != nil {
		principal.Positions[lending.RegularPositionName] = record.Regular
	}

	names := set.NewSet[string](0)
	if stored {
		if err := s.loadIsolated(principal, names); err != nil {
			return nil, err
		}
	}
	s.storedPositions[id] = names
	s.principals.put(id, record)
	return principal, nil
}

// loadPrincipal decodes the persisted record of id into record, reporting
// whether one existed.
func (s *State) loadPrincipal(id ids.ShortID, record *principalRecord) (bool, error) {
	b, err := s.principals.db.Get(shortKey(id))
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, record); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}
	return true, nil
}

func (s *State) loadIsolated(principal *lending.Principal, names set.Set[string]) error {
	it := s.positionDB.NewIteratorWithPrefix(principal.ID[:])
	defer it.Release()

	for it.Next() {
		pos := &lending.IsolatedPosition{}
		if err := json.Unmarshal(it.Value(), pos); err != nil {
			return fmt.Errorf("%w: %v", ErrStateCorrupted, err)
		}
		principal.Positions[pos.Name()] = pos
		names.Add(pos.Name())
	}
	return it.Error()
}

func (s *State) GetTransferIntent(id ids.ID) (*lending.TransferIntent, error) {
	intent, ok, err := s.transfers.get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: transfer %s", lending.ErrIntentNotFound, id)
	}
	return intent, nil
}

func (s *State) PutTransferIntent(intent *lending.TransferIntent) error {
	s.transfers.put(intent.ID, intent)
	return nil
}

func (s *State) DeleteTransferIntent(id ids.ID) error {
	s.transfers.remove(id)
	return nil
}

func (s *State) GetUnwindIntent(id ids.ID) (*lending.UnwindIntent, error) {
	intent, ok, err := s.unwinds.get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: unwind %s", lending.ErrIntentNotFound, id)
	}
	return intent, nil
}

func (s *State) PutUnwindIntent(intent *lending.UnwindIntent) error {
	s.unwinds.put(intent.ID, intent)
	return nil
}

func (s *State) DeleteUnwindIntent(id ids.ID) error {
	s.unwinds.remove(id)
	return nil
}

func (s *State) NextNonce() (uint64, error) {
	if !s.nonceLoaded {
		nonce, err := database.GetUInt64(s.metaDB, keyNonce)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return 0, err
		}
		s.nonce = nonce
		s.nonceLoaded = true
	}
	s.nonce++
	return s.nonce, nil
}

func (s *State) GetMarginAccount(owner ids.ShortID) (*margin.Account, error) {
	account, ok, err := s.accounts.get(owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		account = margin.NewAccount(owner)
		s.accounts.put(owner, account)
	}
	return account, nil
}

func (s *State) GetSwapIntent(id ids.ID) (*margin.SwapIntent, error) {
	intent, ok, err := s.swaps.get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", margin.ErrSwapIntentNotFound, id)
	}
	return intent, nil
}

func (s *State) PutSwapIntent(intent *margin.SwapIntent) error {
	s.swaps.put(intent.ID, intent)
	return nil
}

func (s *State) DeleteSwapIntent(id ids.ID) error {
	s.swaps.remove(id)
	return nil
}

func (s *State) GetStopOrder(positionID ids.ID) (*margin.StopOrder, error) {
	order, ok, err := s.stops.get(positionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", margin.ErrNoStopOrder, positionID)
	}
	return order, nil
}

func (s *State) PutStopOrder(order *margin.StopOrder) error {
	s.stops.put(order.PositionID, order)
	return nil
}

func (s *State) DeleteStopOrder(positionID ids.ID) error {
	s.stops.remove(positionID)
	return nil
}

func (s *State) StopOrders() ([]*margin.StopOrder, error) {
	return s.stops.all(func(k []byte) (ids.ID, error) {
		return ids.ToID(k)
	})
}

// Write flushes every loaded record to the underlying database.
func (s *State) Write() error {
	if err := s.writePrincipals(); err != nil {
		return err
	}
	for _, r := range []interface{ write() error }{
		s.assets,
		s.transfers,
		s.unwinds,
		s.accounts,
		s.swaps,
		s.stops,
	} {
		if err := r.write(); err != nil {
			return err
		}
	}
	if s.nonceLoaded {
		return database.PutUInt64(s.metaDB, keyNonce, s.nonce)
	}
	return nil
}

func (s *State) writePrincipals() error {
	for id, record := range s.principals.cache {
		principal := record.Principal
		stored := s.storedPositions[id]

		record.Regular = nil
		live := set.NewSet[string](len(principal.Positions))
		for name, pos := range principal.Positions {
			switch pos := pos.(type) {
			case *lending.RegularPosition:
				record.Regular = pos
			case *lending.IsolatedPosition:
				b, err := json.Marshal(pos)
				if err != nil {
					return err
				}
				if err := s.positionDB.Put(positionKey(id, name), b); err != nil {
					return err
				}
				live.Add(name)
			}
		}
		for name := range stored {
			if live.Contains(name) {
				continue
			}
			if err := s.positionDB.Delete(positionKey(id, name)); err != nil {
				return err
			}
		}
		s.storedPositions[id] = live
		if isEmpty(principal) {
			s.principals.remove(id)
		}
	}
	return s.principals.write()
}

func isEmpty(p *lending.Principal) bool {
	return len(p.Supplied) == 0 &&
		len(p.Positions) == 0 &&
		len(p.FarmState) == 0 &&
		!p.IsLocked
}

func positionKey(id ids.ShortID, name string) []byte {
	key := make([]byte, 0, len(id)+len(name))
	key = append(key, id[:]...)
	return append(key, name...)
}
