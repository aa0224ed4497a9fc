// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lending

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/luxfi/ids"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
)

const (
	// RegularPositionName names the implicit position every principal has.
	RegularPositionName = "regular"

	// CurrentStorageVersion is the principal schema written by this code.
	CurrentStorageVersion uint8 = 1
)

var (
	_ Position = (*RegularPosition)(nil)
	_ Position = (*IsolatedPosition)(nil)
)

// Shares holds per-asset share balances of a position.
type Shares struct {
	Collateral map[ledger.AssetID]*big.Int `json:"collateral"`
	Borrowed   map[ledger.AssetID]*big.Int `json:"borrowed"`
}

func newShares() Shares {
	return Shares{
		Collateral: make(map[ledger.AssetID]*big.Int),
		Borrowed:   make(map[ledger.AssetID]*big.Int),
	}
}

// IsEmpty reports whether neither map holds anything.
func (s *Shares) IsEmpty() bool {
	return len(s.Collateral) == 0 && len(s.Borrowed) == 0
}

// HasBorrowed reports whether the position owes anything.
func (s *Shares) HasBorrowed() bool {
	return len(s.Borrowed) > 0
}

// AddBorrowed credits borrowed shares of asset.
func (s *Shares) AddBorrowed(asset ledger.AssetID, shares *big.Int) {
	add(s.Borrowed, asset, shares)
}

// Position is a set of collateral and borrowed shares evaluated together for
// risk. It is implemented by RegularPosition and IsolatedPosition only.
type Position interface {
	Name() string
	Balances() *Shares
	// acceptsCollateral rejects assets this position may not hold.
	acceptsCollateral(asset ledger.AssetID) error
}

// RegularPosition is the shared position every principal has.
type RegularPosition struct {
	Shares
}

func (*RegularPosition) Name() string {
	return RegularPositionName
}

func (p *RegularPosition) Balances() *Shares {
	return &p.Shares
}

func (*RegularPosition) acceptsCollateral(ledger.AssetID) error {
	return nil
}

// IsolatedPosition walls off a single collateral asset, named after it, so
// its risk never reaches the regular position.
type IsolatedPosition struct {
	Asset ledger.AssetID `json:"asset"`
	Shares
}

func (p *IsolatedPosition) Name() string {
	return string(p.Asset)
}

func (p *IsolatedPosition) Balances() *Shares {
	return &p.Shares
}

func (p *IsolatedPosition) acceptsCollateral(asset ledger.AssetID) error {
	if asset != p.Asset {
		return fmt.Errorf("%w: %s in position %s", ErrIsolatedMismatch, asset, p.Asset)
	}
	return nil
}

// NewPosition creates an empty position for name.
func NewPosition(name string) Position {
	if name == RegularPositionName {
		return &RegularPosition{Shares: newShares()}
	}
	return &IsolatedPosition{
		Asset:  ledger.AssetID(name),
		Shares: newShares(),
	}
}

// Principal is the lending state of one account.
type Principal struct {
	ID       ids.ShortID                 `json:"id"`
	Supplied map[ledger.AssetID]*big.Int `json:"supplied"`
	// Positions are persisted separately and never serialized inline.
	Positions map[string]Position `json:"-"`
	// Reward bookkeeping owned by another component, carried unchanged.
	FarmState      json.RawMessage `json:"farmState,omitempty"`
	IsLocked       bool            `json:"isLocked"`
	StorageVersion uint8           `json:"storageVersion"`
}

// NewPrincipal returns an empty principal.
func NewPrincipal(id ids.ShortID) *Principal {
	return &Principal{
		ID:             id,
		Supplied:       make(map[ledger.AssetID]*big.Int),
		Positions:      make(map[string]Position),
		StorageVersion: CurrentStorageVersion,
	}
}

// Migrate upgrades an older record in place.
func (p *Principal) Migrate() bool {
	if p.StorageVersion >= CurrentStorageVersion {
		return false
	}
	if p.Supplied == nil {
		p.Supplied = make(map[ledger.AssetID]*big.Int)
	}
	if p.Positions == nil {
		p.Positions = make(map[string]Position)
	}
	p.StorageVersion = CurrentStorageVersion
	return true
}

// SuppliedShares returns the supplied shares of asset.
func (p *Principal) SuppliedShares(asset ledger.AssetID) *big.Int {
	return get(p.Supplied, asset)
}

// AddSupplied credits shares of asset.
func (p *Principal) AddSupplied(asset ledger.AssetID, shares *big.Int) {
	add(p.Supplied, asset, shares)
}

// SubSupplied debits shares of asset.
func (p *Principal) SubSupplied(asset ledger.AssetID, shares *big.Int) error {
	return sub(p.Supplied, asset, shares)
}

// Position returns the named position if it exists.
func (p *Principal) Position(name string) (Position, bool) {
	pos, ok := p.Positions[name]
	return pos, ok
}

// GetOrCreatePosition returns the named position, creating it lazily.
func (p *Principal) GetOrCreatePosition(name string) Position {
	if pos, ok := p.Positions[name]; ok {
		return pos
	}
	pos := NewPosition(name)
	p.Positions[name] = pos
	return pos
}

// PrunePosition removes the named position once it is empty.
func (p *Principal) PrunePosition(name string) {
	if pos, ok := p.Positions[name]; ok && pos.Balances().IsEmpty() {
		delete(p.Positions, name)
	}
}

// PositionNames returns the position names in a stable order.
func (p *Principal) PositionNames() []string {
	names := make([]string, 0, len(p.Positions))
	for name := range p.Positions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AssetCount is the number of distinct assets held across supply and all
// positions.
func (p *Principal) AssetCount() int {
	seen := make(map[ledger.AssetID]struct{}, len(p.Supplied))
	for asset := range p.Supplied {
		seen[asset] = struct{}{}
	}
	for _, pos := range p.Positions {
		shares := pos.Balances()
		for asset := range shares.Collateral {
			seen[asset] = struct{}{}
		}
		for asset := range shares.Borrowed {
			seen[asset] = struct{}{}
		}
	}
	return len(seen)
}

func get(m map[ledger.AssetID]*big.Int, asset ledger.AssetID) *big.Int {
	if v, ok := m[asset]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func add(m map[ledger.AssetID]*big.Int, asset ledger.AssetID, shares *big.Int) {
	if shares.Sign() == 0 {
		return
	}
	if v, ok := m[asset]; ok {
		v.Add(v, shares)
		return
	}
	m[asset] = new(big.Int).Set(shares)
}

func sub(m map[ledger.AssetID]*big.Int, asset ledger.AssetID, shares *big.Int) error {
	v, ok := m[asset]
	if !ok {
		v = new(big.Int)
	}
	if v.Cmp(shares) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ledger.ErrInsufficientShares, asset, v, shares)
	}
	v.Sub(v, shares)
	if v.Sign() == 0 {
		delete(m, asset)
	}
	return nil
}

// sortedAssets returns the keys of m in a stable order.
func sortedAssets(m map[ledger.AssetID]*big.Int) []ledger.AssetID {
	assets := make([]ledger.AssetID, 0, len(m))
	for asset := range m {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
	return assets
}
