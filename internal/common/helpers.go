// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: русская плюрализация, форматирование, работа с временными окнами.
package common

import (
	"fmt"
	"math"
	"time"
)

// PluralizeTokens возвращает правильную форму слова «токен» для числа n.
//
// Правила русского языка:
//   - n%10==1 И n%100!=11 → "токен" (1, 21, 31, 101, ...)
//   - n%10 в [2,3,4] И n%100 НЕ в [12,13,14] → "токена" (2, 3, 4, 22, 23, ...)
//   - Остальные случаи → "токенов" (0, 5-20, 25-30, 100, ...)
func PluralizeTokens(n int64) string {
	// Берём абсолютное значение для отрицательных чисел
	absN := int64(math.Abs(float64(n)))
	lastDigit := absN % 10
	lastTwoDigits := absN % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return "токен"
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return "токена"
	}
	return "токенов"
}

// FormatBalance форматирует баланс в читабельную строку.
// Пример: FormatBalance(150) → "150 токенов"
func FormatBalance(balance int64) string {
	return fmt.Sprintf("%d %s", balance, PluralizeTokens(balance))
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04".
// Используется в сообщениях об операциях.
func FormatDateTime(t time.Time) string {
	return t.Format("02.01.2006 15:04")
}

// --- Временные окна наград ---
// Границы окон везде передаются в миллисекундах с эпохи (как их отдаёт
// источник минут вовлечённости). Окно полуоткрытое: [start, end).

// WindowMillis возвращает границы окна «последние d» относительно now.
func WindowMillis(now time.Time, d time.Duration) (start, end int64) {
	end = now.UnixMilli()
	start = now.Add(-d).UnixMilli()
	return start, end
}

// MillisToTime конвертирует миллисекунды с эпохи в time.Time (UTC).
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
