package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy политика повторов, общая для всех опросов биржи
//
// delay(attempt) = min(Delay * Backoff^attempt ± jitter, MaxDelay)
//
// Backoff = 1 даёт фиксированную паузу (опрос статуса ордера),
// Backoff = 2 - экспоненциальный рост (сетевые ошибки индексера).
type Policy struct {
	// MaxAttempts - количество попыток включая первую.
	// 0 или отрицательное = без ограничения (только failsafe-откат)
	MaxAttempts int

	// Delay - пауза после первой неудачной попытки. 0 = без паузы
	Delay time.Duration

	// MaxDelay - потолок паузы. 0 = без потолка
	MaxDelay time.Duration

	// Backoff - множитель паузы. <= 0 трактуется как 1
	Backoff float64

	// Jitter - доля случайной вариации паузы (0.0 - 1.0)
	Jitter float64

	// RetryIf - какие ошибки повторять. nil = все
	RetryIf func(error) bool

	// OnRetry - вызывается перед каждой паузой, для логирования
	OnRetry func(attempt int, err error, delay time.Duration)
}

// ErrExhausted попытки закончились, а условие так и не выполнилось
var ErrExhausted = errors.New("retry attempts exhausted")

// Fixed политика с фиксированной паузой: attempts попыток через delay
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay, Backoff: 1}
}

// Unbounded политика без потолка попыток
func Unbounded(delay time.Duration) Policy {
	return Policy{MaxAttempts: 0, Delay: delay, Backoff: 1}
}

// Network политика для временных ошибок HTTP:
// 4 попытки, паузы 500ms, 1s, 2s (+ jitter), не больше 10s
func Network() Policy {
	return Policy{
		MaxAttempts: 4,
		Delay:       500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Backoff:     2.0,
		Jitter:      0.2,
		RetryIf:     IsRetryable,
	}
}

// Bounded false для политики без ограничения попыток
func (p Policy) Bounded() bool {
	return p.MaxAttempts > 0
}

func (p Policy) delayFor(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = 1
	}

	d := float64(p.Delay) * math.Pow(backoff, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	if j := math.Min(math.Max(p.Jitter, 0), 1); j > 0 {
		d += d * j * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func (p Policy) last(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts-1
}

// wait спит delay или до отмены контекста
func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do выполняет операцию с повторами.
// Возвращает последнюю ошибку, если все попытки неудачны.
//
// Пример:
//
//	err := retry.Do(ctx, retry.Network(), func() error {
//	    return client.CancelOrder(ctx, id)
//	})
func Do(ctx context.Context, p Policy, operation func() error) error {
	_, err := DoWithResult(ctx, p, func() (struct{}, error) {
		return struct{}{}, operation()
	})
	return err
}

// DoWithResult как Do, но операция возвращает значение
func DoWithResult[T any](ctx context.Context, p Policy, operation func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.RetryIf != nil && !p.RetryIf(err) {
			return zero, err
		}
		if p.last(attempt) {
			return zero, lastErr
		}

		delay := p.delayFor(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, delay)
		}
		if wait(ctx, delay) != nil {
			return zero, lastErr
		}
	}
}

// Poll опрашивает check до тех пор, пока он не вернёт done=true.
//
// Отличие от Do: "ещё не готово" - нормальный исход, а не ошибка.
// Ошибка check считается временной (статус UNKNOWN) и тоже ведёт к следующей попытке,
// если RetryIf её не запрещает. Пауза делается и перед первой проверкой:
// ордер на бирже не появляется мгновенно.
//
// Попытки закончились - возвращается последний результат и ErrExhausted.
func Poll[T any](ctx context.Context, p Policy, check func(attempt int) (T, bool, error)) (T, error) {
	var result T

	for attempt := 0; ; attempt++ {
		if err := wait(ctx, p.delayFor(attempt)); err != nil {
			return result, err
		}

		r, done, err := check(attempt + 1)
		result = r
		if err == nil && done {
			return result, nil
		}
		if err != nil && p.RetryIf != nil && !p.RetryIf(err) {
			return result, err
		}

		if p.last(attempt) {
			if err != nil {
				return result, fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempt+1, err)
			}
			return result, fmt.Errorf("%w after %d attempts", ErrExhausted, attempt+1)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, p.delayFor(attempt+1))
		}
	}
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError ошибка, которая сама знает можно ли её повторять
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable проверяет можно ли повторять ошибку.
// Отмена контекста никогда не повторяется, неизвестные ошибки - повторяются.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if !RetryIfNotContext(err) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}

	type temporary interface {
		Temporary() bool
	}
	var temp temporary
	if errors.As(err, &temp) {
		return temp.Temporary()
	}

	return true
}

// RetryIfNotContext не повторяет ошибки контекста (cancel, timeout)
func RetryIfNotContext(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// PermanentError ошибка, которую не нужно повторять (отклонённый ордер, 4xx)
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent оборачивает ошибку в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TemporaryError ошибка, которую нужно повторить (таймаут, 429, 5xx)
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string   { return e.Err.Error() }
func (e *TemporaryError) Unwrap() error   { return e.Err }
func (e *TemporaryError) Retryable() bool { return true }
func (e *TemporaryError) Temporary() bool { return true }

// Temporary оборачивает ошибку в TemporaryError
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &TemporaryError{Err: err}
}
