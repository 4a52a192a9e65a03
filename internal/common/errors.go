// Package common — errors.go определяет пользовательские ошибки,
// которые используются во всех модулях движка.
// Эти ошибки позволяют обработчикам различать типы проблем
// и возвращать вызывающей стороне структурированный результат.
package common

import "errors"

// Ошибки леджера (баланс, журнал транзакций)
var (
	// ErrUserNotFound — запись баланса для пользователя не существует.
	// Провиженинг — обязанность identity-коллаборатора, операция не повторяется.
	ErrUserNotFound = errors.New("запись баланса не найдена")
	// ErrInsufficientBalance — недостаточно токенов на счёте.
	// Ожидаемый исход нормального использования, не авария.
	ErrInsufficientBalance = errors.New("недостаточно токенов на счёте")
	// ErrInvalidAmount — некорректная сумма (ноль или отрицательная)
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
	// ErrTransientConflict — исчерпаны повторы оптимистической блокировки.
	// Вызывающая сторона может безопасно повторить начисление награды;
	// spend-операции повторять только с request id.
	ErrTransientConflict = errors.New("конфликт конкурентной записи, повторите позже")
)

// Ошибки коллабораторов
var (
	// ErrCollaboratorUnavailable — внешний коллаборатор (минуты вовлечённости,
	// платёжный шлюз, enforcement) недоступен или не ответил вовремя
	ErrCollaboratorUnavailable = errors.New("внешний коллаборатор недоступен")
)

// Ошибки идемпотентности
var (
	// ErrDuplicateRequest — spend-операция с уже обработанным request id
	ErrDuplicateRequest = errors.New("запрос с таким request id уже обработан")
)
