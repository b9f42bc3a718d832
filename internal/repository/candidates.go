package repository

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"statarb/internal/models"
)

// ErrBadCandidateFile неверный заголовок или строка в файле кандидатов
var ErrBadCandidateFile = errors.New("bad candidate file")

// CandidateStore плоский CSV со списком коинтегрированных пар.
// Каждый прогон скринера заменяет файл целиком.
type CandidateStore struct {
	path string
}

// NewCandidateStore создает хранилище кандидатов
func NewCandidateStore(path string) *CandidateStore {
	return &CandidateStore{path: path}
}

// Path путь к файлу
func (s *CandidateStore) Path() string {
	return s.path
}

// Replace атомарно заменяет список кандидатов
func (s *CandidateStore) Replace(pairs []models.CointegratedPair) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(models.CandidateColumns); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := w.Write(p.CSVRecord()); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode candidates: %w", err)
	}
	return writeFileAtomic(s.path, buf.Bytes())
}

// Load читает кандидатов; отсутствующий файл - пустой список
func (s *CandidateStore) Load() ([]models.CointegratedPair, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(models.CandidateColumns)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCandidateFile, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	for i, col := range models.CandidateColumns {
		if strings.TrimSpace(header[i]) != col {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrBadCandidateFile, i+1, header[i], col)
		}
	}

	pairs := make([]models.CointegratedPair, 0, len(rows)-1)
	for n, row := range rows[1:] {
		hr, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d hedge_ratio: %v", ErrBadCandidateFile, n+2, err)
		}
		hl, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d half_life: %v", ErrBadCandidateFile, n+2, err)
		}
		pairs = append(pairs, models.CointegratedPair{
			BaseMarket:  row[0],
			QuoteMarket: row[1],
			HedgeRatio:  hr,
			HalfLife:    hl,
		})
	}
	return pairs, nil
}
