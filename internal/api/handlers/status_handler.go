package handlers

import (
	"net/http"

	"statarb/internal/models"
)

// StatusProvider источник снимка движка (bot.Engine)
type StatusProvider interface {
	Status() models.EngineStatus
}

// LedgerReader чтение журнала позиций
type LedgerReader interface {
	Load() ([]models.PositionRecord, error)
}

// CandidateReader чтение списка коинтегрированных пар
type CandidateReader interface {
	Load() ([]models.CointegratedPair, error)
}

// StatusHandler отдаёт состояние бота: снимок движка, журнал позиций, кандидатов
//
// Endpoints:
// - GET /api/v1/status
// - GET /api/v1/positions
// - GET /api/v1/candidates
//
// Всё только на чтение: управлять ботом через API нельзя.
type StatusHandler struct {
	status     StatusProvider
	ledger     LedgerReader
	candidates CandidateReader
}

// NewStatusHandler создает StatusHandler
func NewStatusHandler(status StatusProvider, ledger LedgerReader, candidates CandidateReader) *StatusHandler {
	return &StatusHandler{status: status, ledger: ledger, candidates: candidates}
}

// GetStatus возвращает снимок движка
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.status.Status())
}

// PositionsResponse журнал позиций
type PositionsResponse struct {
	Positions []models.PositionRecord `json:"positions"`
	Total     int                     `json:"total"`
}

// GetPositions возвращает журнал позиций как он лежит на диске
func (h *StatusHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	records, err := h.ledger.Load()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "ledger_unreadable", "Failed to read ledger: "+err.Error())
		return
	}
	if records == nil {
		records = []models.PositionRecord{}
	}

	respondWithJSON(w, http.StatusOK, PositionsResponse{Positions: records, Total: len(records)})
}

// CandidatesResponse список кандидатов
type CandidatesResponse struct {
	Candidates []models.CointegratedPair `json:"candidates"`
	Total      int                       `json:"total"`
}

// GetCandidates возвращает последний результат скрининга.
// До первого скрининга файла нет: это не ошибка, отдаём пустой список.
func (h *StatusHandler) GetCandidates(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.candidates.Load()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "candidates_unreadable", "Failed to read candidates: "+err.Error())
		return
	}
	if pairs == nil {
		pairs = []models.CointegratedPair{}
	}

	respondWithJSON(w, http.StatusOK, CandidatesResponse{Candidates: pairs, Total: len(pairs)})
}
