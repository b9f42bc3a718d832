package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"statarb/internal/config"
	"statarb/internal/exchange"
	"statarb/internal/models"
	"statarb/internal/repository"
	"statarb/pkg/ratelimit"
	"statarb/pkg/utils"
)

// WebSocketHub - интерфейс для отправки данных клиентам
//
// Реализуется пакетом internal/websocket/Hub:
// - statusUpdate: снимок движка после каждой фазы
// - positionsUpdate: журнал позиций после каждого изменения
// - notification: события торговли (отправляет сервис уведомлений)
type WebSocketHub interface {
	BroadcastStatus(status *models.EngineStatus)
	BroadcastPositions(records []models.PositionRecord)
	BroadcastNotification(n *models.Notification)
}

// CandidateRepository хранилище кандидатов: скринер пишет, вход читает
type CandidateRepository interface {
	CandidateSource
	CandidateWriter
}

// EngineDeps внешние зависимости движка
type EngineDeps struct {
	Gateway    exchange.Gateway
	Ledger     repository.LedgerRepository
	Candidates CandidateRepository
	Notifier   Notifier
	Journal    OrderJournal
	Hub        WebSocketHub // может быть nil
}

// Engine - главный цикл бота
//
// Фазы строго последовательно, в одной горутине:
//
//	abort (один раз при старте, если включено)
//	screen (при старте и по расписанию)
//	loop: exits → entries → пауза LOOP_INTERVAL
//
// Параллельно с фазой может работать только индикатор прогресса,
// он не имеет состояния и останавливается до конца фазы.
type Engine struct {
	cfg *config.Config

	gw         exchange.Gateway
	ledger     repository.LedgerRepository
	candidates CandidateRepository
	notifier   Notifier
	hub        WebSocketHub

	pacer    *ratelimit.Pacer
	screener *Screener
	entries  *EntryScanner
	exits    *ExitManager
	aborter  *Aborter
	recovery *Recovery
	schedule *Schedule

	status   models.EngineStatus
	statusMu sync.RWMutex

	// входы остановлены до перезапуска: журнал был испорчен и убран в карантин
	entriesHalted bool

	now func() time.Time
}

// NewEngine собирает движок и все фазы
func NewEngine(cfg *config.Config, deps EngineDeps) (*Engine, error) {
	if deps.Gateway == nil || deps.Ledger == nil || deps.Candidates == nil {
		return nil, errors.New("engine requires gateway, ledger and candidate store")
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	schedule, err := NewSchedule(cfg.Execution.ScreenSchedule, time.Now())
	if err != nil {
		return nil, err
	}

	pacer := ratelimit.NewPacer(cfg.Execution.PacingDelay)
	policies := PoliciesFrom(cfg.Execution)
	orders := NewOrderExecutor(deps.Gateway, pacer, deps.Journal)
	agent := NewPairAgent(cfg.Strategy, policies, deps.Gateway, orders, pacer, notifier)

	e := &Engine{
		cfg:        cfg,
		gw:         deps.Gateway,
		ledger:     deps.Ledger,
		candidates: deps.Candidates,
		notifier:   notifier,
		hub:        deps.Hub,
		pacer:      pacer,
		screener:   NewScreener(cfg.Strategy, deps.Gateway, deps.Candidates, pacer),
		entries:    NewEntryScanner(cfg.Strategy, deps.Gateway, deps.Candidates, deps.Ledger, agent, pacer),
		exits:      NewExitManager(cfg.Strategy, policies, deps.Gateway, orders, pacer, notifier),
		aborter:    NewAborter(cfg.Strategy, policies, deps.Gateway, orders, deps.Ledger, pacer, notifier),
		recovery:   NewRecovery(deps.Gateway, deps.Ledger, notifier),
		schedule:   schedule,
		now:        time.Now,
	}
	e.status = models.EngineStatus{Phase: models.PhaseIdle, Exchange: deps.Gateway.Name()}
	return e, nil
}

// Status снимок состояния для API
func (e *Engine) Status() models.EngineStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

func (e *Engine) updateStatus(fn func(s *models.EngineStatus)) {
	e.statusMu.Lock()
	fn(&e.status)
	snapshot := e.status
	e.statusMu.Unlock()

	if e.hub != nil {
		e.hub.BroadcastStatus(&snapshot)
	}
}

// Run запускает бота и блокируется до отмены контекста или фатальной ошибки.
// *FatalUnwindError возвращается как есть: процесс должен завершиться.
func (e *Engine) Run(ctx context.Context) error {
	log := utils.L().WithComponent("engine")

	e.updateStatus(func(s *models.EngineStatus) { s.StartedAt = e.now().UTC() })
	e.notifier.Notify(ctx, newNotification(models.NotificationTypeLaunch, "",
		fmt.Sprintf("bot launched on %s", e.gw.Name()),
		map[string]interface{}{
			"abort_all":         e.cfg.Phases.AbortAll,
			"find_cointegrated": e.cfg.Phases.FindCointegrated,
			"manage_exits":      e.cfg.Phases.ManageExits,
			"place_trades":      e.cfg.Phases.PlaceTrades,
		}))

	if e.cfg.Phases.AbortAll {
		if err := e.phase(ctx, models.PhaseAbort, func(ctx context.Context) error {
			_, err := e.aborter.AbortAll(ctx)
			return err
		}); err != nil {
			return e.fail(ctx, "abort all positions", err)
		}
	}

	if _, err := e.recovery.Reconcile(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("startup reconciliation failed", utils.Err(err))
	}
	e.publishPositions()

	if e.cfg.Phases.FindCointegrated {
		if err := e.phase(ctx, models.PhaseScreen, e.screen); err != nil {
			return e.fail(ctx, "screen cointegrated pairs", err)
		}
	}

	for {
		if err := e.cycle(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			log.Info("engine stopped")
			return ctx.Err()
		case <-time.After(e.cfg.Execution.LoopInterval):
		}
	}
}

// cycle один проход: скрининг по расписанию, выходы, входы
func (e *Engine) cycle(ctx context.Context) error {
	log := utils.L().WithComponent("engine")

	if err := e.checkLedger(ctx); err != nil {
		return e.fail(ctx, "quarantine ledger", err)
	}

	if e.cfg.Phases.FindCointegrated && e.schedule.Due(e.now()) {
		e.schedule.Advance(e.now())
		if err := e.phase(ctx, models.PhaseScreen, e.screen); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// прежний список кандидатов остаётся в силе
			log.Error("scheduled screening failed", utils.Err(err), utils.String("next", e.schedule.Next().Format(time.RFC3339)))
			e.recordError(err)
		}
	}

	if e.cfg.Phases.ManageExits {
		if err := e.phase(ctx, models.PhaseExits, e.manageExits); err != nil {
			return e.fail(ctx, "manage exits", err)
		}
	}

	if e.cfg.Phases.PlaceTrades && e.entriesHalted {
		log.Warn("entries halted after ledger quarantine, restart required")
	} else if e.cfg.Phases.PlaceTrades {
		if err := e.phase(ctx, models.PhaseEntries, e.placeTrades); err != nil {
			return e.fail(ctx, "place trades", err)
		}
	}

	var free float64
	if acc, err := e.gw.GetAccount(ctx); err == nil {
		free = acc.FreeCollateral
		FreeCollateral.Set(free)
	}

	CyclesTotal.Inc()
	e.updateStatus(func(s *models.EngineStatus) {
		if free > 0 {
			s.FreeCollateral = free
		}
		s.Cycle++
		s.LastCycleAt = e.now().UTC()
		s.Phase = models.PhaseIdle
	})
	return nil
}

// phase выполняет фазу с метрикой длительности и индикатором прогресса
func (e *Engine) phase(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	e.updateStatus(func(s *models.EngineStatus) { s.Phase = name })

	stop := e.startProgress(ctx, name)
	err := fn(ctx)
	stop()

	RecordPhase(name, start)
	return err
}

// startProgress периодически пишет в лог, что фаза ещё идёт.
// Возвращаемая функция дожидается остановки горутины.
func (e *Engine) startProgress(ctx context.Context, phase string) func() {
	if !e.cfg.Execution.ProgressTicker {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	start := time.Now()

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				utils.L().Info("phase in progress", utils.String("phase", phase), utils.String("elapsed", utils.FormatDuration(time.Since(start))))
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (e *Engine) screen(ctx context.Context) error {
	pairs, err := e.screener.Run(ctx)
	if err != nil {
		return err
	}
	e.updateStatus(func(s *models.EngineStatus) {
		s.LastScreenAt = e.now().UTC()
		s.Candidates = len(pairs)
	})
	e.notifier.Notify(ctx, newNotification(models.NotificationTypeScreen, "",
		fmt.Sprintf("screening found %d cointegrated pairs", len(pairs)), nil))
	return nil
}

// checkLedger убирает испорченный журнал в карантин и останавливает входы.
// Без журнала бот не знает, какие рынки заняты, поэтому новые пары не открываются;
// позиции на бирже остаются оператору.
func (e *Engine) checkLedger(ctx context.Context) error {
	_, err := e.ledger.Load()
	if !errors.Is(err, repository.ErrLedgerCorrupt) {
		return nil
	}

	moved, qerr := e.ledger.Quarantine()
	if qerr != nil {
		return errors.Join(err, qerr)
	}

	e.entriesHalted = true
	utils.L().WithComponent("engine").Error("ledger corrupt, moved to quarantine, entries halted",
		utils.Err(err), utils.String("quarantine", moved))
	e.updateStatus(func(s *models.EngineStatus) {
		s.LastError = err.Error()
		s.EntriesHalted = true
	})
	e.notifier.Notify(ctx, newNotification(models.NotificationTypeError, "",
		fmt.Sprintf("position ledger corrupt, moved to %s; entries halted until restart", moved),
		map[string]interface{}{"quarantine": moved}))
	e.publishPositions()
	return nil
}

func (e *Engine) manageExits(ctx context.Context) error {
	records, err := e.ledger.Load()
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	updated, err := e.exits.Sweep(ctx, records)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// биржа недоступна: журнал не меняем, пробуем в следующем цикле
		utils.L().WithComponent("engine").Warn("exit sweep skipped", utils.Err(err))
		e.recordError(err)
		return nil
	}

	if !sameLedger(records, updated) {
		if err := e.ledger.Save(updated); err != nil {
			return fmt.Errorf("save ledger: %w", err)
		}
		e.publishPositions()
	}
	return nil
}

func (e *Engine) placeTrades(ctx context.Context) error {
	st, err := e.entries.Scan(ctx)
	if st.Opened > 0 {
		e.publishPositions()
	}
	return err
}

// fail уведомляет о фатальной ошибке фазы и возвращает её.
// ABORT агент уже отправил сам.
// Отмена контекста не маскирует ABORT: незахеджированная нога важнее штатной остановки.
func (e *Engine) fail(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil && !IsFatal(err) {
		return ctx.Err()
	}
	e.recordError(err)
	if !IsFatal(err) {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		e.notifier.Notify(notifyCtx, newNotification(models.NotificationTypeError, "",
			fmt.Sprintf("error in %s: %v", what, err), nil))
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (e *Engine) recordError(err error) {
	e.updateStatus(func(s *models.EngineStatus) { s.LastError = err.Error() })
}

func (e *Engine) publishPositions() {
	records, err := e.ledger.Load()
	if err != nil {
		return
	}
	OpenPairs.Set(float64(len(records)))
	e.updateStatus(func(s *models.EngineStatus) { s.OpenPositions = len(records) })
	if e.hub != nil {
		e.hub.BroadcastPositions(records)
	}
}

// sameLedger сравнивает журналы по ключу и статусу записей
func sameLedger(a, b []models.PositionRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key() != b[i].Key() || a[i].Status != b[i].Status ||
			a[i].ClosedM1 != b[i].ClosedM1 || a[i].ClosedM2 != b[i].ClosedM2 {
			return false
		}
	}
	return true
}
