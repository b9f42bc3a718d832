package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"statarb/internal/models"
)

// ============================================================
// NotificationRepository Tests
// ============================================================

var notificationRowColumns = []string{"id", "timestamp", "type", "severity", "pair", "message", "meta"}

func TestNewNotificationRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewNotificationRepository(db)
	if repo == nil {
		t.Fatal("NewNotificationRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestNotificationRepositoryCreate(t *testing.T) {
	tests := []struct {
		name        string
		notif       *models.Notification
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success without meta",
			notif: &models.Notification{
				Type:     models.NotificationTypeOpen,
				Severity: models.SeverityInfo,
				Pair:     "ETH-USD/BTC-USD",
				Message:  "Position opened",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO notifications`).
					WithArgs(sqlmock.AnyArg(), models.NotificationTypeOpen, models.SeverityInfo, "ETH-USD/BTC-USD", "Position opened", []byte(nil)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
			},
		},
		{
			name: "success with meta",
			notif: &models.Notification{
				Type:     models.NotificationTypeUnwind,
				Severity: models.SeverityWarn,
				Pair:     "ETH-USD/BTC-USD",
				Message:  "Leg 2 failed, unwinding",
				Meta:     map[string]interface{}{"market": "ETH-USD", "size": "0.028"},
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO notifications`).
					WithArgs(sqlmock.AnyArg(), models.NotificationTypeUnwind, models.SeverityWarn, "ETH-USD/BTC-USD", "Leg 2 failed, unwinding", sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
			},
		},
		{
			name: "database error",
			notif: &models.Notification{
				Type:     models.NotificationTypeAbort,
				Severity: models.SeverityCritical,
				Message:  "Abort all",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO notifications`).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)
			repo := NewNotificationRepository(db)

			err = repo.Create(tt.notif)
			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if tt.notif.ID == 0 {
					t.Error("ID should be set")
				}
				if tt.notif.Timestamp.IsZero() {
					t.Error("Timestamp should be set")
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestNotificationRepositoryGetRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(notificationRowColumns).
		AddRow(2, now, "CLOSE", "info", "ETH-USD/BTC-USD", "Position closed", []byte(`{"z_score":-1.6}`)).
		AddRow(1, now.Add(-time.Hour), "LAUNCH", "info", "", "Bot launched", nil)
	mock.ExpectQuery(`SELECT .+ FROM notifications ORDER BY timestamp DESC LIMIT \$1`).
		WithArgs(20).
		WillReturnRows(rows)

	repo := NewNotificationRepository(db)
	list, err := repo.GetRecent(20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(list))
	}
	if list[0].Meta["z_score"] != -1.6 {
		t.Errorf("meta not decoded: %+v", list[0].Meta)
	}
	if list[1].Meta != nil {
		t.Errorf("expected nil meta, got %+v", list[1].Meta)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestNotificationRepositoryGetRecentBadMeta(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(notificationRowColumns).
		AddRow(1, time.Now(), "ERROR", "error", "", "broken", []byte(`{not json`))
	mock.ExpectQuery(`SELECT .+ FROM notifications`).WillReturnRows(rows)

	repo := NewNotificationRepository(db)
	if _, err := repo.GetRecent(5); err == nil {
		t.Error("expected error for corrupt meta, got nil")
	}
}

func TestNotificationRepositoryGetByTypes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(notificationRowColumns).
		AddRow(3, time.Now(), "UNWIND", "warn", "SOL-USD/AVAX-USD", "Unwound", nil)
	mock.ExpectQuery(`SELECT .+ FROM notifications WHERE type = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg(), 10).
		WillReturnRows(rows)

	repo := NewNotificationRepository(db)
	list, err := repo.GetByTypes([]string{models.NotificationTypeUnwind, models.NotificationTypeAbort}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].Type != models.NotificationTypeUnwind {
		t.Errorf("unexpected result: %+v", list)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestNotificationRepositoryDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	cutoff := time.Now().AddDate(0, 0, -7)
	mock.ExpectExec(`DELETE FROM notifications WHERE timestamp < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	repo := NewNotificationRepository(db)
	n, err := repo.DeleteOlderThan(cutoff)
	if err != nil || n != 4 {
		t.Errorf("DeleteOlderThan: %d, %v", n, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
