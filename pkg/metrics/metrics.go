package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SettlementsProcessed counts settled trades by side (buy/sell)
var SettlementsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradeledger_settlements_total",
		Help: "Total number of trades settled by the ledger engine",
	},
	[]string{"side"},
)

// SettlementFailures counts settlements aborted and rolled back, by reason
var SettlementFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradeledger_settlement_failures_total",
		Help: "Total number of settlements aborted, labeled by failure reason",
	},
	[]string{"reason"},
)

// SettlementLatency records latency distribution for the settlement pipeline
var SettlementLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "tradeledger_settlement_latency_seconds",
		Help:    "Latency in seconds to settle individual trades",
		Buckets: prometheus.DefBuckets,
	},
)

// RiskAlertsRaised counts risk alerts created, by rule type
var RiskAlertsRaised = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradeledger_risk_alerts_total",
		Help: "Total number of risk alerts raised, labeled by rule type",
	},
	[]string{"rule_type"},
)

func init() {
	prometheus.MustRegister(SettlementsProcessed, SettlementFailures, SettlementLatency)
	prometheus.MustRegister(RiskAlertsRaised)
}
