package bot

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule расписание повторного скрининга (стандартный cron, 5 полей).
// Проверяется между циклами, отдельного планировщика нет:
// скрининг не должен пересекаться с торговыми фазами.
type Schedule struct {
	expr  string
	sched cron.Schedule
	next  time.Time
}

// NewSchedule разбирает выражение. Пустое выражение - скрининг только при старте (nil, nil).
func NewSchedule(expr string, now time.Time) (*Schedule, error) {
	if expr == "" {
		return nil, nil
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse screen schedule %q: %w", expr, err)
	}
	return &Schedule{expr: expr, sched: sched, next: sched.Next(now)}, nil
}

// Due true если время очередного запуска наступило
func (s *Schedule) Due(now time.Time) bool {
	if s == nil {
		return false
	}
	return !now.Before(s.next)
}

// Advance переносит следующий запуск после now (пропущенные запуски не накапливаются)
func (s *Schedule) Advance(now time.Time) {
	if s == nil {
		return
	}
	s.next = s.sched.Next(now)
}

// Next время следующего запуска (нулевое для nil)
func (s *Schedule) Next() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.next
}

// String выражение расписания
func (s *Schedule) String() string {
	if s == nil {
		return ""
	}
	return s.expr
}
