package models

import "time"

// OrderRecord запись журнала ордеров
type OrderRecord struct {
	ID         int       `json:"id" db:"id"`
	PairKey    string    `json:"pair_key" db:"pair_key"`
	Market     string    `json:"market" db:"market"`
	Side       Side      `json:"side" db:"side"`
	Size       string    `json:"size" db:"size"`
	Price      string    `json:"price" db:"price"` // предельная цена
	ReduceOnly bool      `json:"reduce_only" db:"reduce_only"`
	Purpose    string    `json:"purpose" db:"purpose"` // entry_leg1, entry_leg2, unwind, exit, abort
	OrderID    string    `json:"order_id,omitempty" db:"order_id"`
	Status     string    `json:"status" db:"status"` // FILLED, CANCELED, ...
	Error      string    `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Назначение ордера
const (
	PurposeEntryLeg1 = "entry_leg1"
	PurposeEntryLeg2 = "entry_leg2"
	PurposeUnwind    = "unwind"
	PurposeExit      = "exit"
	PurposeAbort     = "abort"
)

// Статусы ордера на бирже
const (
	OrderStatusPending  = "PENDING"
	OrderStatusOpen     = "OPEN"
	OrderStatusFilled   = "FILLED"
	OrderStatusCanceled = "CANCELED"
	OrderStatusRejected = "REJECTED"
	OrderStatusUnknown  = "UNKNOWN"
)
