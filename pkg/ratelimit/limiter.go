package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter - token bucket для запросов к индексеру
//
// Ведро наполняется со скоростью rate токенов/сек до ёмкости burst,
// каждый запрос забирает один токен. Публичный индексер dYdX
// режет по IP, поэтому лимит общий на весь клиент.
//
//	limiter := ratelimit.New(5, 10) // 5 req/sec, burst 10
//	if err := limiter.Wait(ctx); err != nil { ... }
type Limiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// New создаёт лимитер. rate <= 0 -> 5 req/sec, burst < rate -> burst = rate
func New(rate, burst float64) *Limiter {
	if rate <= 0 {
		rate = 5
	}
	if burst < rate {
		burst = rate
	}
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// refill вызывается под lock'ом
func (l *Limiter) refill(now time.Time) {
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill(time.Now())
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// Allow забирает токен без блокировки
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(time.Now())
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// ============================================================
// Pacer - минимальный интервал между вызовами
// ============================================================

// Pacer выдерживает паузу не меньше interval между соседними обращениями к бирже.
// Основной цикл однопоточный, поэтому пауза считается от конца предыдущего вызова.
type Pacer struct {
	interval time.Duration
	last     time.Time
	mu       sync.Mutex
	now      func() time.Time
}

// NewPacer создаёт pacer. interval <= 0 - без пауз
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval, now: time.Now}
}

// Wait ждёт, пока с прошлого вызова не пройдёт interval
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.interval <= 0 {
		return ctx.Err()
	}

	p.mu.Lock()
	var wait time.Duration
	if !p.last.IsZero() {
		wait = p.interval - p.now().Sub(p.last)
	}
	p.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	p.mu.Lock()
	p.last = p.now()
	p.mu.Unlock()
	return nil
}

// Interval настроенный интервал
func (p *Pacer) Interval() time.Duration {
	if p == nil {
		return 0
	}
	return p.interval
}
