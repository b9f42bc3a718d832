package utils

import (
	"fmt"
	"strings"
	"time"
)

// time.go - временные окна для запроса свечей
//
// Индексер отдаёт не больше 100 свечей за запрос, поэтому история
// собирается несколькими окнами, идущими назад от текущего момента.

// TimeRange представляет временной диапазон
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains проверяет, попадает ли время в диапазон
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}

// Duration возвращает продолжительность диапазона
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

var resolutions = map[string]time.Duration{
	"1MIN":   time.Minute,
	"5MINS":  5 * time.Minute,
	"15MINS": 15 * time.Minute,
	"30MINS": 30 * time.Minute,
	"1HOUR":  time.Hour,
	"4HOURS": 4 * time.Hour,
	"1DAY":   24 * time.Hour,
}

// ResolutionDuration переводит resolution индексера (1HOUR, 15MINS, ...) в длительность свечи
func ResolutionDuration(resolution string) (time.Duration, error) {
	d, ok := resolutions[strings.ToUpper(resolution)]
	if !ok {
		return 0, fmt.Errorf("unknown resolution %q", resolution)
	}
	return d, nil
}

// HistoryRanges строит windows последовательных окон по bars свечей, от now назад.
// Первое окно самое свежее. Границы усечены до секунды.
//
// Пример (1HOUR, 4 окна по 100):
//   - [now-100h, now], [now-200h, now-100h], [now-300h, now-200h], [now-400h, now-300h]
func HistoryRanges(now time.Time, candle time.Duration, windows, bars int) []TimeRange {
	if windows <= 0 || bars <= 0 || candle <= 0 {
		return nil
	}

	span := candle * time.Duration(bars)
	end := now.UTC().Truncate(time.Second)

	ranges := make([]TimeRange, 0, windows)
	for i := 0; i < windows; i++ {
		start := end.Add(-span)
		ranges = append(ranges, TimeRange{Start: start, End: end})
		end = start
	}
	return ranges
}

// FormatISO формат времени, который принимает индексер (fromISO/toISO)
func FormatISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// FormatDuration форматирует продолжительность в человекочитаемый формат
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	return d.Round(time.Second).String()
}
