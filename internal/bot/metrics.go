package bot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового цикла
// ============================================================

// ============ Метрики латентности ============

// PhaseDuration - длительность фаз цикла
var PhaseDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "statarb",
		Subsystem: "engine",
		Name:      "phase_duration_seconds",
		Help:      "Duration of engine phases in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
	},
	[]string{"phase"}, // abort, screen, exits, entries
)

// FillConfirmLatency - время от отправки ордера до подтверждения исполнения
var FillConfirmLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "statarb",
		Subsystem: "trading",
		Name:      "fill_confirm_latency_seconds",
		Help:      "Time from order submission to confirmed fill in seconds",
		Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 20, 60},
	},
	[]string{"purpose"},
)

// ============ Счётчики событий ============

// CyclesTotal - количество завершённых циклов
var CyclesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "engine",
		Name:      "cycles_total",
		Help:      "Total number of completed evaluation cycles",
	},
)

// SignalsTotal - сигналы по парам
var SignalsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "trading",
		Name:      "signals_total",
		Help:      "Number of evaluated entry signals",
	},
	[]string{"triggered"}, // yes, no
)

// OpensTotal - результаты попыток открытия пары по конечному состоянию автомата
var OpensTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "trading",
		Name:      "opens_total",
		Help:      "Pair open attempts by final agent state",
	},
	[]string{"state"}, // LEG2_CONFIRMED, LEG1_FAILED, UNWOUND, ABORT, skipped
)

// ClosesTotal - закрытия пар
var ClosesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "trading",
		Name:      "closes_total",
		Help:      "Pair close attempts by result",
	},
	[]string{"result"}, // closed, partial, failed
)

// OrdersTotal - отправленные ордера
var OrdersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "trading",
		Name:      "orders_total",
		Help:      "Orders submitted to the venue",
	},
	[]string{"purpose", "status"},
)

// ReconcileMismatches - расхождения журнала и биржи
var ReconcileMismatches = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "risk",
		Name:      "reconcile_mismatches_total",
		Help:      "Ledger vs exchange mismatches left for manual review",
	},
	[]string{"kind"},
)

// ============ Метрики состояния ============

// OpenPairs - количество пар в журнале
var OpenPairs = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "statarb",
		Subsystem: "trading",
		Name:      "open_pairs",
		Help:      "Number of pairs currently held in the ledger",
	},
)

// CandidatePairs - размер последнего набора кандидатов
var CandidatePairs = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "statarb",
		Subsystem: "screener",
		Name:      "candidate_pairs",
		Help:      "Number of cointegrated pairs found by the last screening run",
	},
)

// FreeCollateral - свободный залог на момент последнего чтения
var FreeCollateral = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "statarb",
		Subsystem: "exchange",
		Name:      "free_collateral_usd",
		Help:      "Free collateral at last account read",
	},
)

// ============ Вспомогательные функции ============

// RecordPhase записывает длительность фазы
func RecordPhase(phase string, start time.Time) {
	PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// RecordOrder записывает отправленный ордер
func RecordOrder(purpose, status string) {
	OrdersTotal.WithLabelValues(purpose, status).Inc()
}

// RecordFillConfirm записывает задержку подтверждения исполнения
func RecordFillConfirm(purpose string, start time.Time) {
	FillConfirmLatency.WithLabelValues(purpose).Observe(time.Since(start).Seconds())
}

// RecordSignal записывает оценённый сигнал
func RecordSignal(triggered bool) {
	triggeredStr := "no"
	if triggered {
		triggeredStr = "yes"
	}
	SignalsTotal.WithLabelValues(triggeredStr).Inc()
}

// RecordOpen записывает исход попытки открытия
func RecordOpen(state AgentState) {
	OpensTotal.WithLabelValues(string(state)).Inc()
}

// RecordClose записывает исход закрытия
func RecordClose(result string) {
	ClosesTotal.WithLabelValues(result).Inc()
}

// RecordMismatch записывает расхождение
func RecordMismatch(kind string) {
	ReconcileMismatches.WithLabelValues(kind).Inc()
}
