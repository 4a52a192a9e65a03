// Package ledger — store.go определяет контракт хранилища записей баланса.
// Все мутации любого модуля (награды, разблокировки, инвестиции, вывод)
// проходят через один и тот же атомарный примитив Mutate.
package ledger

import (
	"context"
	"errors"
)

// ErrNoMutation возвращается колбэком мутации, когда запись менять не нужно
// (например, реконсиляция без истёкших сессий). Mutate трактует её как
// успех без записи: версия не растёт, журнал не пополняется.
var ErrNoMutation = errors.New("мутация не требуется")

// MutateFunc применяет изменение к копии записи баланса и возвращает
// запись журнала для этой мутации (nil — правка без движения токенов,
// например изменение enforced-набора). Ошибка отменяет мутацию целиком.
//
// Колбэк может вызываться несколько раз (повтор при конфликте версий),
// поэтому он обязан быть чистым: никаких побочных эффектов снаружи записи.
type MutateFunc func(rec *BalanceRecord) (*TransactionEntry, error)

// Store — атомарное хранилище записей баланса и журнала транзакций.
//
// Гарантии Mutate:
//   - операции одного пользователя сериализуются: две конкурентные мутации
//     никогда не видят одинаковый «до»-баланс (оптимистическая блокировка
//     по версии с ограниченным числом повторов);
//   - операции разных пользователей друг друга не блокируют;
//   - обновление записи и добавление записи журнала — одна атомарная единица;
//   - при исчерпании повторов возвращается common.ErrTransientConflict.
type Store interface {
	// Provision создаёт запись с нулевым балансом, если её ещё нет.
	// Идемпотентна. Вызывается identity-коллаборатором.
	Provision(ctx context.Context, userID string) error

	// Get возвращает текущую запись или common.ErrUserNotFound.
	Get(ctx context.Context, userID string) (*BalanceRecord, error)

	// Mutate атомарно применяет fn к записи пользователя.
	// Возвращает запись после мутации и созданную запись журнала (если была).
	Mutate(ctx context.Context, userID string, fn MutateFunc) (*BalanceRecord, *TransactionEntry, error)

	// Entries возвращает последние записи журнала пользователя,
	// упорядоченные по порядку коммитов (новые первыми).
	Entries(ctx context.Context, userID string, limit int) ([]*TransactionEntry, error)

	// UserIDs возвращает всех известных пользователей (для планировщика).
	UserIDs(ctx context.Context) ([]string, error)
}
