// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package lendingvm wires the lending and margin engines to a persistent
// store, an in-process exchange venue and a JSON-RPC surface.
package lendingvm

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/luxfi/cache"
	"github.com/luxfi/database"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/lendingvm/utils/timer/mockable"
	"github.com/luxfi/lendingvm/vms/lendingvm/api"
	"github.com/luxfi/lendingvm/vms/lendingvm/config"
	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
	"github.com/luxfi/lendingvm/vms/lendingvm/margin"
	"github.com/luxfi/lendingvm/vms/lendingvm/metrics"
	"github.com/luxfi/lendingvm/vms/lendingvm/oracle"
	"github.com/luxfi/lendingvm/vms/lendingvm/state"
	"github.com/luxfi/lendingvm/vms/lendingvm/swap"
	"github.com/luxfi/lendingvm/vms/lendingvm/txs"
)

const (
	// maxDeliveryRounds bounds how many times venue results may trigger
	// further venue requests within one call.
	maxDeliveryRounds = 16

	resolvedCacheSize = 1024
)

var (
	errShutdown        = errors.New("VM is shutting down")
	errUnknownTransfer = errors.New("unknown pending transfer")
	errAlreadyResolved = errors.New("transfer already resolved")
	errUnknownResult   = errors.New("unknown stranded venue result")

	_ api.VM = (*VM)(nil)
)

// VM serializes calls into the lending and margin engines. Each call runs
// against a fresh versioned view of the database and commits only if it
// succeeds; external requests made by a failed call are dropped.
type VM struct {
	config config.Config
	log    log.Logger

	lock sync.Mutex

	baseDB database.Database

	// Used to check local time
	clock mockable.Clock

	metrics metrics.Metrics
	lending *lending.Engine
	margin  *margin.Engine

	outbox outbox
	venue  *swap.Venue
	feed   *oracle.Feed

	// Transfers out of the ledger awaiting confirmation from the token host
	transfers map[ids.ID]txs.Transfer
	// Outcomes of recently resolved transfers
	resolved *cache.LRU[ids.ID, bool]
	// Venue results whose delivery failed, held until retried or compensated
	stranded map[ids.ID]swap.Result

	shutdown bool
}

// New returns a VM over db. cfg is verified before use.
func New(
	cfg config.Config,
	logger log.Logger,
	registerer prometheus.Registerer,
	db database.Database,
) (*VM, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	m, err := metrics.New(registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	feed, err := oracle.NewFeed(oracle.DefaultWindow)
	if err != nil {
		return nil, err
	}

	vm := &VM{
		config:    cfg,
		log:       logger,
		baseDB:    db,
		metrics:   m,
		venue:     swap.NewVenue(),
		feed:      feed,
		transfers: make(map[ids.ID]txs.Transfer),
		resolved:  &cache.LRU[ids.ID, bool]{Size: resolvedCacheSize},
		stranded:  make(map[ids.ID]swap.Result),
	}
	vm.lending = lending.NewEngine(&vm.config, logger, m, &vm.outbox, &vm.outbox)
	vm.margin = margin.NewEngine(vm.lending, logger, m, &vm.outbox)
	vm.lending.SetMarginEngine(vm.margin)
	return vm, nil
}

// Clock returns the clock calls are timestamped with.
func (vm *VM) Clock() *mockable.Clock {
	return &vm.clock
}

// Venue returns the exchange that executes swaps and unwinds.
func (vm *VM) Venue() *swap.Venue {
	return vm.venue
}

func (vm *VM) newCall(caller ids.ShortID) lending.Call {
	return lending.Call{
		Caller:        caller,
		AttachedStake: 1,
		Now:           vm.clock.UnixNano(),
	}
}

// do runs one call and then delivers any venue results it caused. The lock
// must be held.
func (vm *VM) do(method string, fn func(*state.State) error) error {
	if vm.shutdown {
		return errShutdown
	}
	if err := vm.apply(method, fn); err != nil {
		return err
	}
	vm.deliver()
	return nil
}

// apply runs fn against a versioned view of the database. The view and the
// outbox are committed together or not at all.
func (vm *VM) apply(method string, fn func(*state.State) error) error {
	db := versiondb.New(vm.baseDB)
	s := state.New(db)

	err := fn(s)
	if err == nil {
		err = s.Write()
	}
	if err == nil {
		err = db.Commit()
	}
	vm.metrics.MarkCall(method, err)
	if err != nil {
		db.Abort()
		vm.outbox.reset()
		vm.log.Debug("call aborted",
			log.String("method", method),
			log.Err(err),
		)
		return err
	}
	vm.log.Debug("call committed",
		log.String("method", method),
	)
	vm.dispatch()
	return nil
}

// dispatch hands the committed outbox to its recipients.
func (vm *VM) dispatch() {
	for _, t := range vm.outbox.transfers {
		vm.transfers[t.IntentID] = t
	}
	for _, r := range vm.outbox.swaps {
		_ = vm.venue.Swap(r.intentID, r.tokenIn, r.amountIn, r.tokenOut, r.minAmountOut, r.indication)
	}
	for _, r := range vm.outbox.unwinds {
		_ = vm.venue.Unwind(r.intentID, r.token, r.amount, r.minAmounts)
	}
	vm.outbox.reset()
}

// deliver resolves venue results, each in its own call, until the venue is
// idle.
func (vm *VM) deliver() {
	for round := 0; round < maxDeliveryRounds; round++ {
		results := vm.venue.Drain()
		if len(results) == 0 {
			return
		}
		vm.settle(results)
	}
	vm.log.Warn("venue results left undelivered",
		log.Int("rounds", maxDeliveryRounds),
	)
}

// settle resolves each result in its own call. Results that fail to apply
// are stranded rather than dropped.
func (vm *VM) settle(results []swap.Result) {
	for _, r := range results {
		if r.Err != nil {
			vm.log.Debug("venue request failed",
				log.Stringer("intentID", r.IntentID),
				log.Err(r.Err),
			)
		}
		if err := vm.resolve(r); err != nil {
			vm.stranded[r.IntentID] = r
			vm.log.Warn("venue result stranded",
				log.Stringer("intentID", r.IntentID),
				log.Bool("unwind", r.Unwind),
				log.Err(err),
			)
		}
	}
}

// resolve hands one venue result to its engine in its own call.
func (vm *VM) resolve(r swap.Result) error {
	now := vm.clock.UnixNano()
	if r.Unwind {
		return vm.apply("onUnwindResolved", func(s *state.State) error {
			return vm.lending.OnUnwindResolved(s, now, r.IntentID, r.OK, r.Amounts)
		})
	}
	return vm.apply("onSwapResolved", func(s *state.State) error {
		return vm.margin.OnSwapResolved(s, now, r.IntentID, r.OK, r.AmountOut)
	})
}

// StrandedResults returns the venue results that could not be delivered,
// ordered by intent id.
func (vm *VM) StrandedResults() []swap.Result {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	results := make([]swap.Result, 0, len(vm.stranded))
	for _, r := range vm.stranded {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].IntentID.Compare(results[j].IntentID) < 0
	})
	return results
}

// RetryResult delivers a stranded venue result again.
func (vm *VM) RetryResult(intentID ids.ID) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	r, ok := vm.stranded[intentID]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownResult, intentID)
	}
	return vm.redeliver(r)
}

// CompensateResult settles a stranded venue result as if the venue had
// failed it. Only the owner may compensate.
func (vm *VM) CompensateResult(caller ids.ShortID, intentID ids.ID) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if caller != vm.config.OwnerID() {
		return fmt.Errorf("%w: %s is not the owner", lending.ErrUnauthorized, caller)
	}
	r, ok := vm.stranded[intentID]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownResult, intentID)
	}
	err := vm.redeliver(swap.Result{
		IntentID: r.IntentID,
		Unwind:   r.Unwind,
	})
	if err != nil {
		return err
	}
	vm.metrics.MarkCompensation("stranded")
	return nil
}

// redeliver resolves r in place of the stranded result with the same intent.
// The lock must be held.
func (vm *VM) redeliver(r swap.Result) error {
	if vm.shutdown {
		return errShutdown
	}
	if err := vm.resolve(r); err != nil {
		return err
	}
	delete(vm.stranded, r.IntentID)
	vm.deliver()
	return nil
}

// prices returns snapshot, or one built from the feed when snapshot is nil
// and the feed has observations.
func (vm *VM) prices(snapshot *oracle.PriceSnapshot, now uint64) *oracle.PriceSnapshot {
	if snapshot != nil {
		return snapshot
	}
	assets := vm.feed.Assets()
	if len(assets) == 0 {
		return nil
	}
	return vm.feed.Snapshot(now, assets)
}

// RecordPrice adds an oracle observation to the price feed.
func (vm *VM) RecordPrice(caller ids.ShortID, asset ledger.AssetID, price *oracle.Price) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if caller != vm.config.OracleID() {
		return fmt.Errorf("%w: %s is not the oracle", lending.ErrUnauthorized, caller)
	}
	return vm.feed.Record(asset, price, vm.clock.UnixNano())
}

// OnTransfer handles tokens transferred into the ledger. A returned error
// means the transfer must be refunded.
func (vm *VM) OnTransfer(sender ids.ShortID, token ledger.AssetID, amount *big.Int, msgBytes []byte) error {
	msg, err := txs.ParseMessage(msgBytes)
	if err != nil {
		return err
	}
	actions, err := msg.Batch()
	if err != nil {
		return err
	}

	vm.lock.Lock()
	defer vm.lock.Unlock()

	call := vm.newCall(sender)
	return vm.do(msg.Type.String(), func(s *state.State) error {
		switch msg.Type {
		case txs.Reserve:
			return vm.lending.DepositToReserve(s, call, token, amount)
		case txs.Margin:
			return vm.margin.Deposit(s, call, token, amount)
		default:
			return vm.lending.Deposit(s, call, token, amount, actions)
		}
	})
}

// Execute runs a batch for caller. A nil snapshot uses the price feed.
func (vm *VM) Execute(caller ids.ShortID, snapshot *oracle.PriceSnapshot, actions []lending.Action) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	call := vm.newCall(caller)
	snapshot = vm.prices(snapshot, call.Now)
	return vm.do("execute", func(s *state.State) error {
		return vm.lending.Execute(s, call, snapshot, actions)
	})
}

// ExecuteWithOracleCallback runs a batch the oracle forwards for account.
func (vm *VM) ExecuteWithOracleCallback(
	caller ids.ShortID,
	account ids.ShortID,
	snapshot *oracle.PriceSnapshot,
	actions []lending.Action,
) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	call := vm.newCall(caller)
	return vm.do("executeWithOracleCallback", func(s *state.State) error {
		return vm.lending.ExecuteWithOracleCallback(s, call, account, snapshot, actions)
	})
}

// MarginOp names a margin entry point that takes a snapshot.
type MarginOp uint8

const (
	Decrease MarginOp = iota
	Close
	Liquidate
	ForceClose
	TriggerStop
)

func (op MarginOp) String() string {
	switch op {
	case Decrease:
		return "decreasePosition"
	case Close:
		return "closePosition"
	case Liquidate:
		return "liquidatePosition"
	case ForceClose:
		return "forceClosePosition"
	case TriggerStop:
		return "triggerStop"
	default:
		return "unknown"
	}
}

// OpenPosition opens a margin position for caller.
func (vm *VM) OpenPosition(caller ids.ShortID, snapshot *oracle.PriceSnapshot, req *margin.OpenRequest) (ids.ID, error) {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	call := vm.newCall(caller)
	snapshot = vm.prices(snapshot, call.Now)
	var positionID ids.ID
	err := vm.do("openPosition", func(s *state.State) error {
		var err error
		positionID, err = vm.margin.Open(s, call, snapshot, req)
		return err
	})
	return positionID, err
}

// UnwindPosition runs one of the margin entry points that swap a position
// back into its debt asset.
func (vm *VM) UnwindPosition(op MarginOp, caller ids.ShortID, snapshot *oracle.PriceSnapshot, req *margin.UnwindRequest) error {
	var fn func(lending.Store, lending.Call, *oracle.PriceSnapshot, *margin.UnwindRequest) error
	switch op {
	case Decrease:
		fn = vm.margin.Decrease
	case Close:
		fn = vm.margin.Close
	case Liquidate:
		fn = vm.margin.Liquidate
	case ForceClose:
		fn = vm.margin.ForceClose
	case TriggerStop:
		fn = vm.margin.TriggerStop
	default:
		return fmt.Errorf("unknown margin op %d", op)
	}

	vm.lock.Lock()
	defer vm.lock.Unlock()

	call := vm.newCall(caller)
	snapshot = vm.prices(snapshot, call.Now)
	return vm.do(op.String(), func(s *state.State) error {
		return fn(s, call, snapshot, req)
	})
}

// SetStop sets, updates or removes the stop order of a position.
func (vm *VM) SetStop(caller ids.ShortID, snapshot *oracle.PriceSnapshot, positionID ids.ID, profitBps, lossBps *uint32) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	call := vm.newCall(caller)
	snapshot = vm.prices(snapshot, call.Now)
	return vm.do("setStop", func(s *state.State) error {
		return vm.margin.SetStop(s, call, snapshot, positionID, profitBps, lossBps)
	})
}

// MarginWithdraw sends tokens out of caller's margin account. A nil amount
// withdraws everything.
func (vm *VM) MarginWithdraw(caller ids.ShortID, token ledger.AssetID, amount *big.Int) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	call := vm.newCall(caller)
	return vm.do("marginWithdraw", func(s *state.State) error {
		return vm.margin.Withdraw(s, call, token, amount)
	})
}

// AddAsset registers an asset.
func (vm *VM) AddAsset(caller ids.ShortID, id ledger.AssetID, cfg ledger.AssetConfig) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	call := vm.newCall(caller)
	return vm.do("addAsset", func(s *state.State) error {
		return vm.lending.AddAsset(s, call, id, cfg)
	})
}

// UpdateAssetConfig replaces an asset's config.
func (vm *VM) UpdateAssetConfig(caller ids.ShortID, id ledger.AssetID, cfg ledger.AssetConfig) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	call := vm.newCall(caller)
	return vm.do("updateAssetConfig", func(s *state.State) error {
		return vm.lending.UpdateAssetConfig(s, call, id, cfg)
	})
}

// ClaimReserve sends reserve tokens to the owner. A nil amount claims the
// whole reserve.
func (vm *VM) ClaimReserve(caller ids.ShortID, id ledger.AssetID, amount *big.Int) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	call := vm.newCall(caller)
	return vm.do("claimReserve", func(s *state.State) error {
		return vm.lending.ClaimReserve(s, call, id, amount)
	})
}

// PendingTransfers returns the transfers awaiting confirmation, ordered by
// intent id.
func (vm *VM) PendingTransfers() []txs.Transfer {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	transfers := make([]txs.Transfer, 0, len(vm.transfers))
	for _, t := range vm.transfers {
		transfers = append(transfers, t)
	}
	sort.Slice(transfers, func(i, j int) bool {
		return transfers[i].IntentID.Compare(transfers[j].IntentID) < 0
	})
	return transfers
}

// ResolveTransfer reports the outcome of a pending transfer. A failed
// transfer is credited back to the balance it came from.
func (vm *VM) ResolveTransfer(intentID ids.ID, ok bool) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if _, exists := vm.transfers[intentID]; !exists {
		if outcome, found := vm.resolved.Get(intentID); found {
			return fmt.Errorf("%w: %s succeeded=%t", errAlreadyResolved, intentID, outcome)
		}
		return fmt.Errorf("%w: %s", errUnknownTransfer, intentID)
	}
	now := vm.clock.UnixNano()
	err := vm.do("onTransferResolved", func(s *state.State) error {
		return vm.lending.OnTransferResolved(s, now, intentID, ok)
	})
	if err != nil {
		return err
	}
	delete(vm.transfers, intentID)
	vm.resolved.Put(intentID, ok)
	return nil
}

// view runs fn against a read-only copy of the state.
func (vm *VM) view(fn func(s *state.State, now uint64) error) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	return fn(state.New(vm.baseDB), vm.clock.UnixNano())
}

// Asset returns an asset accrued up to now.
func (vm *VM) Asset(id ledger.AssetID) (*ledger.Asset, error) {
	var asset *ledger.Asset
	err := vm.view(func(s *state.State, now uint64) error {
		var err error
		asset, err = lending.LoadAsset(s, id, now)
		return err
	})
	return asset, err
}

// Assets returns every asset accrued up to now, ordered by id.
func (vm *VM) Assets() ([]*ledger.Asset, error) {
	var assets []*ledger.Asset
	err := vm.view(func(s *state.State, now uint64) error {
		assetIDs, err := s.AssetIDs()
		if err != nil {
			return err
		}
		assets = make([]*ledger.Asset, 0, len(assetIDs))
		for _, id := range assetIDs {
			asset, err := lending.LoadAsset(s, id, now)
			if err != nil {
				return err
			}
			assets = append(assets, asset)
		}
		return nil
	})
	return assets, err
}

func loadAssets(s *state.State, now uint64) (map[ledger.AssetID]*ledger.Asset, error) {
	assetIDs, err := s.AssetIDs()
	if err != nil {
		return nil, err
	}
	assets := make(map[ledger.AssetID]*ledger.Asset, len(assetIDs))
	for _, id := range assetIDs {
		if assets[id], err = lending.LoadAsset(s, id, now); err != nil {
			return nil, err
		}
	}
	return assets, nil
}

// Principal returns the lending state of an account with every asset it
// may refer to.
func (vm *VM) Principal(id ids.ShortID) (*lending.Principal, map[ledger.AssetID]*ledger.Asset, error) {
	var (
		principal *lending.Principal
		assets    map[ledger.AssetID]*ledger.Asset
	)
	err := vm.view(func(s *state.State, now uint64) error {
		var err error
		if principal, err = s.GetPrincipal(id); err != nil {
			return err
		}
		assets, err = loadAssets(s, now)
		return err
	})
	return principal, assets, err
}

// MarginAccount returns the margin account of owner with every asset it may
// refer to.
func (vm *VM) MarginAccount(owner ids.ShortID) (*margin.Account, map[ledger.AssetID]*ledger.Asset, error) {
	var (
		account *margin.Account
		assets  map[ledger.AssetID]*ledger.Asset
	)
	err := vm.view(func(s *state.State, now uint64) error {
		var err error
		if account, err = s.GetMarginAccount(owner); err != nil {
			return err
		}
		assets, err = loadAssets(s, now)
		return err
	})
	return account, assets, err
}

// RiskDiscount values one of account's positions. An empty name means the
// regular position.
func (vm *VM) RiskDiscount(account ids.ShortID, name string, snapshot *oracle.PriceSnapshot) (lending.Sums, *big.Int, error) {
	var (
		sums     lending.Sums
		discount *big.Int
	)
	if name == "" {
		name = lending.RegularPositionName
	}
	err := vm.view(func(s *state.State, now uint64) error {
		book, err := vm.prices(snapshot, now).Verify(now, vm.config.PriceLimits())
		if err != nil {
			return err
		}
		principal, err := s.GetPrincipal(account)
		if err != nil {
			return err
		}
		pos, ok := principal.Position(name)
		if !ok {
			return fmt.Errorf("%w: %s of %s", lending.ErrPositionNotFound, name, account)
		}
		load := func(id ledger.AssetID) (*ledger.Asset, error) {
			return lending.LoadAsset(s, id, now)
		}
		if sums, err = lending.PositionSums(load, book, pos, true); err != nil {
			return err
		}
		discount, err = lending.RiskDiscount(load, book, pos)
		return err
	})
	return sums, discount, err
}

// ScanStops returns the stop orders that would trigger now.
func (vm *VM) ScanStops(snapshot *oracle.PriceSnapshot) ([]margin.Trigger, error) {
	var triggers []margin.Trigger
	err := vm.view(func(s *state.State, now uint64) error {
		var err error
		triggers, err = vm.margin.ScanStops(s, now, vm.prices(snapshot, now))
		return err
	})
	return triggers, err
}

// CreateHandlers returns the JSON-RPC handler of the lending service.
func (vm *VM) CreateHandlers() (map[string]http.Handler, error) {
	server := rpc.NewServer()
	codec := json2.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	if err := server.RegisterService(api.NewService(vm, vm.log), "lending"); err != nil {
		return nil, fmt.Errorf("failed to register lending service: %w", err)
	}
	return map[string]http.Handler{
		"": server,
	}, nil
}

// HealthCheck reports the VM status.
func (vm *VM) HealthCheck() map[string]interface{} {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	return map[string]interface{}{
		"healthy":          !vm.shutdown,
		"pendingTransfers": len(vm.transfers),
		"feedAssets":       len(vm.feed.Assets()),
		"time":             vm.clock.Time().Format(time.RFC3339),
	}
}

// Shutdown rejects further calls.
func (vm *VM) Shutdown() error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	vm.log.Info("shutting down lending VM")
	vm.shutdown = true
	return nil
}
