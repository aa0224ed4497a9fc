// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/lendingvm/utils/wrappers"
)

const (
	methodLabel  = "method"
	outcomeLabel = "outcome"
	kindLabel    = "kind"
	sagaLabel    = "saga"

	outcomeCommitted = "committed"
	outcomeAborted   = "aborted"
)

var _ Metrics = (*metricsImpl)(nil)

type Metrics interface {
	// MarkCall records whether a call committed or aborted.
	MarkCall(method string, err error)
	// MarkAction counts an applied batch action by kind.
	MarkAction(kind string)
	MarkLiquidation()
	MarkForceClose()
	// MarkMarginOp counts a margin lifecycle step by kind.
	MarkMarginOp(kind string)
	// MarkCompensation counts a failed external step that was rolled back.
	MarkCompensation(saga string)
}

type metricsImpl struct {
	calls         *prometheus.CounterVec
	actions       *prometheus.CounterVec
	liquidations  prometheus.Counter
	forceCloses   prometheus.Counter
	marginOps     *prometheus.CounterVec
	compensations *prometheus.CounterVec
}

func (m *metricsImpl) MarkCall(method string, err error) {
	outcome := outcomeCommitted
	if err != nil {
		outcome = outcomeAborted
	}
	m.calls.With(prometheus.Labels{
		methodLabel:  method,
		outcomeLabel: outcome,
	}).Inc()
}

func (m *metricsImpl) MarkAction(kind string) {
	m.actions.With(prometheus.Labels{kindLabel: kind}).Inc()
}

func (m *metricsImpl) MarkLiquidation() {
	m.liquidations.Inc()
}

func (m *metricsImpl) MarkForceClose() {
	m.forceCloses.Inc()
}

func (m *metricsImpl) MarkMarginOp(kind string) {
	m.marginOps.With(prometheus.Labels{kindLabel: kind}).Inc()
}

func (m *metricsImpl) MarkCompensation(saga string) {
	m.compensations.With(prometheus.Labels{sagaLabel: saga}).Inc()
}

func New(registerer prometheus.Registerer) (Metrics, error) {
	m := &metricsImpl{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calls",
				Help: "Number of calls by method and outcome",
			},
			[]string{methodLabel, outcomeLabel},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actions",
				Help: "Number of batch actions applied by kind",
			},
			[]string{kindLabel},
		),
		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liquidations",
			Help: "Number of partial liquidations",
		}),
		forceCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "force_closes",
			Help: "Number of positions force-closed against reserves",
		}),
		marginOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "margin_ops",
				Help: "Number of margin lifecycle steps by kind",
			},
			[]string{kindLabel},
		),
		compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compensations",
				Help: "Number of external steps rolled back by saga",
			},
			[]string{sagaLabel},
		),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(m.calls),
		registerer.Register(m.actions),
		registerer.Register(m.liquidations),
		registerer.Register(m.forceCloses),
		registerer.Register(m.marginOps),
		registerer.Register(m.compensations),
	)
	return m, errs.Err
}
