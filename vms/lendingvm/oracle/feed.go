// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/lendingvm/vms/lendingvm/ledger"
)

var (
	ErrNoObservations = errors.New("no price observations available")
	ErrInvalidWindow  = errors.New("TWAP window must be positive")
	ErrDecimalsChange = errors.New("observation decimals differ from series")

	// DefaultWindow is the default averaging window.
	DefaultWindow = 5 * time.Minute

	// MaxObservations is the maximum number of observations kept per asset.
	MaxObservations = 1000
)

type observation struct {
	multiplier *big.Int
	at         uint64
}

// series is the observation history of one asset. All observations share
// the decimals of the first one.
type series struct {
	decimals     uint8
	observations []observation
}

// Feed averages pushed observations per asset over a rolling window and
// turns them into snapshots for the oracle callback entry point.
type Feed struct {
	mu     sync.RWMutex
	window uint64
	series map[ledger.AssetID]*series
}

// NewFeed creates a feed averaging over window.
func NewFeed(window time.Duration) (*Feed, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	return &Feed{
		window: uint64(window),
		series: make(map[ledger.AssetID]*series),
	}, nil
}

// Record adds an observation of asset at unix nanosecond at.
func (f *Feed) Record(asset ledger.AssetID, price *Price, at uint64) error {
	if err := price.verify(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.series[asset]
	if !ok {
		s = &series{decimals: price.Decimals}
		f.series[asset] = s
	}
	if s.decimals != price.Decimals {
		return ErrDecimalsChange
	}

	s.observations = append(s.observations, observation{
		multiplier: new(big.Int).Set(price.Multiplier),
		at:         at,
	})
	sort.SliceStable(s.observations, func(i, j int) bool {
		return s.observations[i].at < s.observations[j].at
	})
	s.prune(at, f.window)
	return nil
}

// prune drops observations older than twice the window.
func (s *series) prune(now, window uint64) {
	var cutoff uint64
	if now > 2*window {
		cutoff = now - 2*window
	}
	start := 0
	for start < len(s.observations)-1 && s.observations[start].at < cutoff {
		start++
	}
	if len(s.observations)-start > MaxObservations {
		start = len(s.observations) - MaxObservations
	}
	if start > 0 {
		s.observations = append(s.observations[:0], s.observations[start:]...)
	}
}

// average returns the time weighted multiplier over the window ending at
// at, and the timestamp of the oldest observation used.
func (s *series) average(at, window uint64) (*big.Int, uint64, error) {
	var start uint64
	if at > window {
		start = at - window
	}

	// Last observation at or before the window start carries into it.
	first := -1
	for i, obs := range s.observations {
		if obs.at > at {
			break
		}
		if obs.at <= start || first == -1 {
			first = i
		}
	}
	if first == -1 {
		return nil, 0, ErrNoObservations
	}

	relevant := s.observations[first:]
	weighted := new(big.Int)
	total := uint64(0)
	oldest := relevant[0].at
	for i, obs := range relevant {
		if obs.at > at {
			break
		}
		from := max(obs.at, start)
		to := at
		if i+1 < len(relevant) && relevant[i+1].at <= at {
			to = relevant[i+1].at
		}
		if to <= from {
			continue
		}
		d := to - from
		weighted.Add(weighted, new(big.Int).Mul(obs.multiplier, new(big.Int).SetUint64(d)))
		total += d
	}
	if total == 0 {
		last := first
		for i := first; i < len(s.observations) && s.observations[i].at <= at; i++ {
			last = i
		}
		return new(big.Int).Set(s.observations[last].multiplier), s.observations[last].at, nil
	}
	return weighted.Quo(weighted, new(big.Int).SetUint64(total)), oldest, nil
}

// Price returns the time weighted average price of asset at at.
func (f *Feed) Price(asset ledger.AssetID, at uint64) (*Price, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s, ok := f.series[asset]
	if !ok {
		return nil, ErrNoObservations
	}
	multiplier, _, err := s.average(at, f.window)
	if err != nil {
		return nil, err
	}
	return &Price{Multiplier: multiplier, Decimals: s.decimals}, nil
}

// Snapshot builds a snapshot at at covering the requested assets. Assets
// without observations are left nil so the verifier can reject them.
func (f *Feed) Snapshot(at uint64, assets []ledger.AssetID) *PriceSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snapshot := &PriceSnapshot{
		Timestamp: at,
		Prices:    make(map[ledger.AssetID]*Price, len(assets)),
	}
	oldest := at
	for _, asset := range assets {
		snapshot.Prices[asset] = nil
		s, ok := f.series[asset]
		if !ok {
			continue
		}
		multiplier, from, err := s.average(at, f.window)
		if err != nil {
			continue
		}
		snapshot.Prices[asset] = &Price{Multiplier: multiplier, Decimals: s.decimals}
		oldest = min(oldest, from)
	}
	snapshot.RecencyDuration = time.Duration(at - oldest)
	return snapshot
}

// Assets returns the assets the feed has observed, sorted.
func (f *Feed) Assets() []ledger.AssetID {
	f.mu.RLock()
	defer f.mu.RUnlock()

	assets := make([]ledger.AssetID, 0, len(f.series))
	for asset := range f.series {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
	return assets
}
