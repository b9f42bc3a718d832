package models

import "time"

// EngineStatus снимок состояния движка для API
type EngineStatus struct {
	Phase          string    `json:"phase"` // idle, abort, screen, exits, entries
	Cycle          int64     `json:"cycle"`
	StartedAt      time.Time `json:"started_at"`
	LastCycleAt    time.Time `json:"last_cycle_at,omitempty"`
	LastScreenAt   time.Time `json:"last_screen_at,omitempty"`
	Candidates     int       `json:"candidates"`
	OpenPositions  int       `json:"open_positions"`
	FreeCollateral float64   `json:"free_collateral"`
	LastError      string    `json:"last_error,omitempty"`
	EntriesHalted  bool      `json:"entries_halted,omitempty"`
	Exchange       string    `json:"exchange"`
}

// Фазы цикла
const (
	PhaseIdle    = "idle"
	PhaseAbort   = "abort"
	PhaseScreen  = "screen"
	PhaseExits   = "exits"
	PhaseEntries = "entries"
)
