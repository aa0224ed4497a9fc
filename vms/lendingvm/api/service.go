// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api provides the JSON-RPC service of the lending VM.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
	"github.com/luxfi/lendingvm/vms/lendingvm/lending"
	"github.com/luxfi/lendingvm/vms/lendingvm/margin"
	"github.com/luxfi/lendingvm/vms/lendingvm/oracle"
	"github.com/luxfi/lendingvm/vms/lendingvm/swap"
	"github.com/luxfi/lendingvm/vms/lendingvm/txs"

	avajson "github.com/luxfi/lendingvm/utils/json"
)

var ErrInvalidRequest = errors.New("invalid request")

// VM is the part of the lending VM the service calls into.
type VM interface {
	Asset(id ledger.AssetID) (*ledger.Asset, error)
	Assets() ([]*ledger.Asset, error)
	Principal(id ids.ShortID) (*lending.Principal, map[ledger.AssetID]*ledger.Asset, error)
	MarginAccount(owner ids.ShortID) (*margin.Account, map[ledger.AssetID]*ledger.Asset, error)
	RiskDiscount(account ids.ShortID, name string, snapshot *oracle.PriceSnapshot) (lending.Sums, *big.Int, error)
	ScanStops(snapshot *oracle.PriceSnapshot) ([]margin.Trigger, error)

	OnTransfer(sender ids.ShortID, token ledger.AssetID, amount *big.Int, msg []byte) error
	Execute(caller ids.ShortID, snapshot *oracle.PriceSnapshot, actions []lending.Action) error
	PendingTransfers() []txs.Transfer
	ResolveTransfer(intentID ids.ID, ok bool) error
	StrandedResults() []swap.Result
	RetryResult(intentID ids.ID) error
	CompensateResult(caller ids.ShortID, intentID ids.ID) error
}

// Service is the lending JSON-RPC service.
type Service struct {
	vm  VM
	log log.Logger
}

// NewService returns a service over vm.
func NewService(vm VM, logger log.Logger) *Service {
	return &Service{
		vm:  vm,
		log: logger,
	}
}

// GetAssetArgs are the arguments to GetAsset.
type GetAssetArgs struct {
	AssetID ledger.AssetID `json:"assetId"`
}

// GetAssetReply is the response from GetAsset.
type GetAssetReply struct {
	Asset AssetView `json:"asset"`
}

// GetAsset returns an asset accrued up to now.
func (s *Service) GetAsset(_ *http.Request, args *GetAssetArgs, reply *GetAssetReply) error {
	s.log.Debug("API called",
		log.String("service", "lending"),
		log.String("method", "getAsset"),
		log.Stringer("assetID", args.AssetID),
	)

	asset, err := s.vm.Asset(args.AssetID)
	if err != nil {
		return err
	}
	reply.Asset = newAssetView(asset)
	return nil
}

// GetAssetsArgs are the arguments to GetAssets.
type GetAssetsArgs struct{}

// GetAssetsReply is the response from GetAssets.
type GetAssetsReply struct {
	Assets []AssetView `json:"assets"`
}

// GetAssets returns every asset ordered by id.
func (s *Service) GetAssets(_ *http.Request, _ *GetAssetsArgs, reply *GetAssetsReply) error {
	s.log.Debug("API called",
		log.String("service", "lending"),
		log.String("method", "getAssets"),
	)

	assets, err := s.vm.Assets()
	if err != nil {
		return err
	}
	reply.Assets = make([]AssetView, len(assets))
	for i, asset := range assets {
		reply.Assets[i] = newAssetView(asset)
	}
	return nil
}

// AccountArgs identify an account.
type AccountArgs struct {
	Account ids.ShortID `json:"account"`
}

// GetAccount returns the lending balances of an account.
func (s *Service) GetAccount(_ *http.Request, args *AccountArgs, reply *AccountView) error {
	s.log.Debug("API called",
		log.String("service", "lending"),
		log.String("method", "getAccount"),
		log.Stringer("account", args.Account),
	)

	principal, assets, err := s.vm.Principal(args.Account)
	if err != nil {
		return err
	}
	*reply = newAccountView(principal, assets)
	return nil
}

// GetMarginAccount returns the margin balances and positions of an account.
func (s *Service) GetMarginAccount(_ *http.Request, args *AccountArgs, reply *MarginAccountView) error {
	s.log.Debug("API called",
		log.String("service", "lending"),
		log.String("method", "getMarginAccount"),
		log.Stringer("account", args.Account),
	)

	account, assets, err := s.vm.MarginAccount(args.Account)
	if err != nil {
		return err
	}
	*reply = newMarginAccountView(account, assets)
	return nil
}

// DepositArgs describe a token transfer into the ledger.
type DepositArgs struct {
	Sender ids.ShortID     `json:"sender"`
	Token  ledger.AssetID  `json:"token"`
	Amount avajson.BigInt  `json:"amount"`
	Msg    json.RawMessage `json:"msg,omitempty"`
}

// SuccessReply reports a committed call.
type SuccessReply struct {
	Success bool `json:"success"`
}

// Deposit delivers a token transfer notification.
func (s *Service) Deposit(_ *http.Request, args *DepositArgs, reply *SuccessReply) error {
	s.log.Debug("API called",
		log.String("service", "lending"),
		log.String("method", "deposit"),
		log.Stringer("sender", args.Sender),
		log.Stringer("token", args.Token),
	)

	if !args.Amount.IsSet() || args.Amount.Int().Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if err := s.vm.OnTransfer(args.Sender, args.Token, args.Amount.Int(), args.Msg); err != nil {
		return err
	}
	reply.Success = true
	return nil
}

// ExecuteArgs are the arguments to Execute. Without prices the VM's price
// feed is used.
type ExecuteArgs struct {
	Caller  ids.ShortID           `json:"caller"`
	Actions []txs.ActionEnvelope  `json:"actions"`
	Prices  *oracle.PriceSnapshot `json:"prices,omitempty"`
}

// Execute runs a batch of actions for the caller.
func (s *Service) Execute(_ *http.Request, args *ExecuteArgs, reply *SuccessReply) error {
	s.log.Debug("API called",
		log.String("service", "lending"),
		log.String("method", "execute"),
		log.Stringer("caller", args.Caller),
		log.Int("numActions", len(args.Actions)),
	)

	if len(args.Actions) == 0 {
		return fmt.Errorf("%w: no actions", ErrInvalidRequest)
	}
	actions, err := txs.Actions(args.Actions)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := s.vm.Execute(args.Caller, args.Prices, actions); err != nil {
		return err
	}
	reply.Success = true
	return nil
}

// GetRiskDiscountArgs are the arguments to GetRiskDiscount. An empty
// position means the regular position.
type GetRiskDiscountArgs struct {
	Account  ids.ShortID           `json:"account"`
	Position string                `json:"position,omitempty"`
	Prices   *oracle.PriceSnapshot `json:"prices,omitempty"`
}

// GetRiskDiscountReply holds weighted USD sums scaled by 1e18 and the
// discount a liquidator would receive. A positive discount means the
// position can be liquidated.
type GetRiskDiscountReply struct {
	Collateral avajson.BigInt `json:"collateral"`
	Borrowed   avajson.BigInt `json:"borrowed"`
	Discount   avajson.BigInt `json:"discount"`
	// Collateral over borrowed scaled by 1e18. Omitted without debt.
	HealthFactor *avajson.BigInt `json:"healthFactor,omitempty"`
}

// GetRiskDiscount values a position.
func (s *Service) GetRiskDiscount(_ *http.Request, args *GetRiskDiscountArgs, reply *GetRiskDiscountReply) error {
	s.log.Debug("API called",
		log.String("service", "lending"),
		log.String("method", "getRiskDiscount"),
		log.Stringer("account", args.Account),
		log.String("position", args.Position),
	)

	sums, discount, err := s.vm.RiskDiscount(args.Account, args.Position, args.Prices)
	if err != nil {
		return err
	}
	reply.Collateral = avajson.NewBigInt(sums.Collateral)
	reply.Borrowed = avajson.NewBigInt(sums.Borrowed)
	reply.Discount = avajson.NewBigInt(discount)
	if h := sums.HealthFactor(); h != nil {
		health := avajson.NewBigInt(h)
		reply.HealthFactor = &health
	}
	return nil
}

// ScanStopsArgs are the arguments to ScanStops.
type ScanStopsArgs struct {
	Prices *oracle.PriceSnapshot `json:"prices,omitempty"`
}

// ScanStopsReply lists stop orders ready to trigger, oldest first.
type ScanStopsReply struct {
	Triggers []margin.Trigger `json:"triggers"`
}

// ScanStops returns the stop orders a keeper could trigger now.
func (s *Service) ScanStops(_ *http.Request, args *ScanStopsArgs, reply *ScanStopsReply) error {
	s.log.Debug("API called",
		log.String("service", "lending"),
		log.String("method", "scanStops"),
	)

	triggers, err := s.vm.ScanStops(args.Prices)
	if err != nil {
		return err
	}
	reply.Triggers = triggers
	if reply.Triggers == nil {
		reply.Triggers = []margin.Trigger{}
	}
	return nil
}

// TransferView is a pending outgoing transfer in API form.
type TransferView struct {
	IntentID ids.ID         `json:"intentId"`
	Token    ledger.AssetID `json:"token"`
	Receiver ids.ShortID    `json:"receiver"`
	Amount   avajson.BigInt `json:"amount"`
}

// GetPendingTransfersArgs are the arguments to GetPendingTransfers.
type GetPendingTransfersArgs struct{}

// GetPendingTransfersReply lists transfers awaiting confirmation.
type GetPendingTransfersReply struct {
	Transfers []TransferView `json:"transfers"`
}

// GetPendingTransfers returns the transfers out of the ledger that the token
// host has not confirmed yet.
func (s *Service) GetPendingTransfers(_ *http.Request, _ *GetPendingTransfersArgs, reply *GetPendingTransfersReply) error {
	s.log.Debug("API called",
		log.String("service", "lending"),
		log.String("method", "getPendingTransfers"),
	)

	transfers := s.vm.PendingTransfers()
	reply.Transfers = make([]TransferView, len(transfers))
	for i, t := range transfers {
		reply.Transfers[i] = TransferView{
			IntentID: t.IntentID,
			Token:    t.Token,
			Receiver: t.Receiver,
			Amount:   avajson.NewBigInt(t.Amount),
		}
	}
	return nil
}

// ResolveTransferArgs report the outcome of a pending transfer.
type ResolveTransferArgs struct {
	IntentID ids.ID `json:"intentId"`
	Success  bool   `json:"success"`
}

// ResolveTransfer confirms or fails a pending transfer. A failed transfer is
// credited back.
func (s *Service) ResolveTransfer(_ *http.Request, args *ResolveTransferArgs, reply *SuccessReply) error {
	s.log.Debug("API called",
		log.String("service", "lending"),
		log.String("method", "resolveTransfer"),
		log.Stringer("intentID", args.IntentID),
		log.Bool("success", args.Success),
	)

	if err := s.vm.ResolveTransfer(args.IntentID, args.Success); err != nil {
		return err
	}
	reply.Success = true
	return nil
}

// StrandedResultView is a venue result that could not be delivered.
type StrandedResultView struct {
	IntentID ids.ID `json:"intentId"`
	Unwind   bool   `json:"unwind"`
	Success  bool   `json:"success"`
}

// GetStrandedResultsArgs are the arguments to GetStrandedResults.
type GetStrandedResultsArgs struct{}

// GetStrandedResultsReply lists stranded venue results.
type GetStrandedResultsReply struct {
	Results []StrandedResultView `json:"results"`
}

// GetStrandedResults returns the venue results awaiting a retry or
// compensation.
func (s *Service) GetStrandedResults(_ *http.Request, _ *GetStrandedResultsArgs, reply *GetStrandedResultsReply) error {
	s.log.Debug("API called",
		log.String("service", "lending"),
		log.String("method", "getStrandedResults"),
	)

	results := s.vm.StrandedResults()
	reply.Results = make([]StrandedResultView, len(results))
	for i, r := range results {
		reply.Results[i] = StrandedResultView{
			IntentID: r.IntentID,
			Unwind:   r.Unwind,
			Success:  r.OK,
		}
	}
	return nil
}

// StrandedResultArgs name a stranded venue result.
type StrandedResultArgs struct {
	Caller   ids.ShortID `json:"caller"`
	IntentID ids.ID      `json:"intentId"`
}

// RetryResult delivers a stranded venue result again.
func (s *Service) RetryResult(_ *http.Request, args *StrandedResultArgs, reply *SuccessReply) error {
	s.log.Debug("API called",
		log.String("service", "lending"),
		log.String("method", "retryResult"),
		log.Stringer("intentID", args.IntentID),
	)

	if err := s.vm.RetryResult(args.IntentID); err != nil {
		return err
	}
	reply.Success = true
	return nil
}

// CompensateResult settles a stranded venue result as a failed request.
func (s *Service) CompensateResult(_ *http.Request, args *StrandedResultArgs, reply *SuccessReply) error {
	s.log.Debug("API called",
		log.String("service", "lending"),
		log.String("method", "compensateResult"),
		log.Stringer("caller", args.Caller),
		log.Stringer("intentID", args.IntentID),
	)

	if err := s.vm.CompensateResult(args.Caller, args.IntentID); err != nil {
		return err
	}
	reply.Success = true
	return nil
}
