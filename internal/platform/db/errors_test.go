package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mentalspace/ehr/internal/platform/apperr"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"no rows", pgx.ErrNoRows, apperr.KindNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), apperr.KindNotFound},
		{"exclusion", &pgconn.PgError{Code: CodeExclusionViolation}, apperr.KindConflict},
		{"serialization", &pgconn.PgError{Code: CodeSerializationFailure}, apperr.KindConflict},
		{"unique", &pgconn.PgError{Code: CodeUniqueViolation}, apperr.KindConflict},
		{"foreign key", &pgconn.PgError{Code: CodeForeignKeyViolation}, apperr.KindValidation},
		{"check", &pgconn.PgError{Code: CodeCheckViolation}, apperr.KindValidation},
		{"other pg", &pgconn.PgError{Code: "53300"}, apperr.KindInternal},
		{"plain", errors.New("boom"), apperr.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := apperr.KindOf(MapError(tt.err, "appointment")); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMapError_Nil(t *testing.T) {
	if MapError(nil, "client") != nil {
		t.Error("expected nil")
	}
}

func TestMapError_NotFoundMessage(t *testing.T) {
	err := MapError(pgx.ErrNoRows, "client")
	if err.Error() != "client not found" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestIsExclusionViolation(t *testing.T) {
	if !IsExclusionViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23P01"})) {
		t.Error("expected wrapped 23P01 to be detected")
	}
	if IsExclusionViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("unique violation is not an exclusion violation")
	}
}
