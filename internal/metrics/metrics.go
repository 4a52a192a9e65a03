// Package metrics — счётчики Prometheus для операций движка.
// Регистрация через promauto в default-реестр, отдаются на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerOperations считает успешные мутации леджера по типу транзакции.
var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gating_engine",
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Успешные операции леджера по типу транзакции",
}, []string{"tx_type"})

// LedgerConflictRetries считает повторы мутаций из-за конфликта версий.
var LedgerConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gating_engine",
	Subsystem: "ledger",
	Name:      "conflict_retries_total",
	Help:      "Повторы мутаций из-за конкурентной записи",
})

// LedgerConflictsExhausted считает мутации, не прошедшие за все повторы.
var LedgerConflictsExhausted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gating_engine",
	Subsystem: "ledger",
	Name:      "conflicts_exhausted_total",
	Help:      "Мутации, отброшенные после исчерпания повторов",
})

// RewardWindowsCredited считает начисленные окна наград.
var RewardWindowsCredited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gating_engine",
	Subsystem: "rewards",
	Name:      "windows_credited_total",
	Help:      "Окна вовлечённости, за которые начислены токены",
})

// RewardWindowsSkipped считает окна, пропущенные по маркеру идемпотентности.
var RewardWindowsSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gating_engine",
	Subsystem: "rewards",
	Name:      "windows_skipped_total",
	Help:      "Окна, уже начисленные ранее (маркер найден)",
})

// EnforcementSyncFailures считает неудачные пуши enforced-набора.
// Сам спенд при этом НЕ откатывается — конвергенция на реконсиляции.
var EnforcementSyncFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gating_engine",
	Subsystem: "enforcement",
	Name:      "sync_failures_total",
	Help:      "Неудачные пуши списка заблокированных пакетов",
})

// CollaboratorErrors считает ошибки внешних коллабораторов по имени.
var CollaboratorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gating_engine",
	Subsystem: "collaborators",
	Name:      "errors_total",
	Help:      "Ошибки вызовов внешних коллабораторов",
}, []string{"collaborator"})
