package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"statarb/internal/models"
)

// ErrLedgerCorrupt файл журнала не разбирается; файл остаётся на месте до Quarantine
var ErrLedgerCorrupt = errors.New("ledger file is corrupt")

// LedgerRepository хранилище открытых парных позиций.
// Пассивное: инвариант "один рынок - одна LIVE запись" обеспечивают проверки перед входом.
type LedgerRepository interface {
	Load() ([]models.PositionRecord, error)
	Save(records []models.PositionRecord) error
	Append(record models.PositionRecord) error
	// Quarantine убирает нечитаемый журнал в сторону и возвращает новый путь
	Quarantine() (string, error)
}

// FileLedger журнал позиций в JSON-файле (массив PositionRecord).
// Запись атомарна: временный файл, fsync, rename.
type FileLedger struct {
	path string
	mu   sync.Mutex
}

// NewFileLedger создает журнал по пути к файлу
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// Path путь к файлу журнала
func (l *FileLedger) Path() string {
	return l.path
}

// Load читает журнал; отсутствующий файл - пустой журнал
func (l *FileLedger) Load() ([]models.PositionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.PositionRecord{}, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	records := []models.PositionRecord{}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLedgerCorrupt, l.path, err)
	}
	return records, nil
}

// Save атомарно перезаписывает журнал
func (l *FileLedger) Save(records []models.PositionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if records == nil {
		records = []models.PositionRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	return writeFileAtomic(l.path, data)
}

// Append дописывает запись (load + save)
func (l *FileLedger) Append(record models.PositionRecord) error {
	records, err := l.Load()
	if err != nil {
		return err
	}
	return l.Save(append(records, record))
}

// Quarantine переименовывает файл журнала в <path>.corrupt-<время UTC>.
// Содержимое сохраняется для ручного разбора, следующий Load видит пустой журнал.
func (l *FileLedger) Quarantine() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dst := fmt.Sprintf("%s.corrupt-%s", l.path, time.Now().UTC().Format("20060102T150405.000"))
	if err := os.Rename(l.path, dst); err != nil {
		return "", fmt.Errorf("quarantine ledger: %w", err)
	}
	return dst, nil
}

// writeFileAtomic пишет во временный файл в той же директории и переименовывает
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// IsMarketOpen true если рынок является ногой удерживаемой записи журнала
// ИЛИ биржа сообщает по нему открытую позицию. Журнал может отставать от биржи
// после падения или ручных действий, поэтому нужны обе проверки.
func IsMarketOpen(records []models.PositionRecord, exchangePositions map[string]bool, market string) bool {
	if exchangePositions[market] {
		return true
	}
	for _, r := range records {
		if r.Holds() && r.HasMarket(market) {
			return true
		}
	}
	return false
}
