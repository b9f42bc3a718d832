package repository

import (
	"database/sql"
	"errors"
	"time"

	"statarb/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound = errors.New("order not found")
)

const orderColumns = `id, pair_key, market, side, size, price, reduce_only, purpose, order_id, status, error, created_at`

// OrderRepository - журнал ордеров, отправленных на биржу
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create создает запись об ордере
func (r *OrderRepository) Create(order *models.OrderRecord) error {
	query := `
		INSERT INTO orders (pair_key, market, side, size, price, reduce_only, purpose, order_id, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}

	return r.db.QueryRow(
		query,
		order.PairKey,
		order.Market,
		string(order.Side),
		order.Size,
		order.Price,
		order.ReduceOnly,
		order.Purpose,
		order.OrderID,
		order.Status,
		order.Error,
		order.CreatedAt,
	).Scan(&order.ID)
}

func scanOrder(row interface{ Scan(...interface{}) error }) (*models.OrderRecord, error) {
	order := &models.OrderRecord{}
	var side string
	err := row.Scan(
		&order.ID,
		&order.PairKey,
		&order.Market,
		&side,
		&order.Size,
		&order.Price,
		&order.ReduceOnly,
		&order.Purpose,
		&order.OrderID,
		&order.Status,
		&order.Error,
		&order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.Side = models.Side(side)
	return order, nil
}

func (r *OrderRepository) queryOrders(query string, args ...interface{}) ([]*models.OrderRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.OrderRecord
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// GetByPairKey возвращает все ордера пары, новые первыми
func (r *OrderRepository) GetByPairKey(pairKey string) ([]*models.OrderRecord, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE pair_key = $1 ORDER BY created_at DESC`
	return r.queryOrders(query, pairKey)
}

// GetRecent возвращает последние N ордеров
func (r *OrderRepository) GetRecent(limit int) ([]*models.OrderRecord, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC LIMIT $1`
	return r.queryOrders(query, limit)
}

// UpdateStatus обновляет статус ордера по id на бирже
func (r *OrderRepository) UpdateStatus(orderID, status, errMsg string) error {
	query := `UPDATE orders SET status = $1, error = $2 WHERE order_id = $3`

	result, err := r.db.Exec(query, status, errMsg, orderID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// DeleteOlderThan удаляет ордера старше указанной даты
func (r *OrderRepository) DeleteOlderThan(timestamp time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM orders WHERE created_at < $1`, timestamp)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
