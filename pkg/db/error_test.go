package db

import (
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{gorm.ErrDuplicatedKey, true},
		{fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{errors.New("UNIQUE constraint failed: payments.stripe_session_id"), true},
		{errors.New(`ERROR: duplicate key value violates unique constraint "payments_stripe_session_id_key"`), true},
		{errors.New("Error 1062: Duplicate entry"), true},
		{errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		if got := IsDuplicateKeyErr(tc.err); got != tc.want {
			t.Fatalf("IsDuplicateKeyErr(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestNewTestIsolated(t *testing.T) {
	a, err := NewTest()
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	b, err := NewTest()
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	if err := a.Exec("CREATE TABLE t (id INTEGER)").Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Migrator().HasTable("t") {
		t.Fatalf("expected separate databases")
	}
}
