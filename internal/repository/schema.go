package repository

import (
	"database/sql"
	"fmt"
)

// schema журнал ордеров и уведомлений; торговое состояние в БД не хранится
var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		pair_key VARCHAR(64) NOT NULL,
		market VARCHAR(32) NOT NULL,
		side VARCHAR(4) NOT NULL,
		size VARCHAR(32) NOT NULL,
		price VARCHAR(32) NOT NULL,
		reduce_only BOOLEAN DEFAULT false,
		purpose VARCHAR(16) NOT NULL,
		order_id VARCHAR(128) DEFAULT '',
		status VARCHAR(16) NOT NULL,
		error TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_pair_key ON orders (pair_key)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMP DEFAULT NOW(),
		type VARCHAR(16) NOT NULL,
		severity VARCHAR(10) DEFAULT 'info',
		pair VARCHAR(64) DEFAULT '',
		message TEXT NOT NULL,
		meta JSONB
	)`,
}

// EnsureSchema создаёт таблицы журнала, если их нет
func EnsureSchema(db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
