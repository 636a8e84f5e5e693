package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestCustomerRepoFindByPhoneNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	defer mock.Close()

	repo := NewCustomerRepo(mock)

	mock.ExpectQuery("SELECT id, phone, first_name, last_name").
		WithArgs("+34600000000").
		WillReturnError(pgx.ErrNoRows)

	_, found, err := repo.FindByPhone(context.Background(), "+34600000000")
	if err != nil {
		t.Fatalf("find by phone: %v", err)
	}
	if found {
		t.Fatal("expected customer not to be found")
	}
}

func TestCustomerRepoLoadAndUpdateName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	defer mock.Close()
	repo := NewCustomerRepo(mock)
	ctx := context.Background()

	rows := pgxmock.NewRows([]string{"first_name", "last_name"}).AddRow("Ana", "García")
	mock.ExpectQuery("SELECT first_name, last_name FROM customers").WithArgs("cust-1").WillReturnRows(rows)

	first, last, found, err := repo.LoadName(ctx, "cust-1")
	if err != nil {
		t.Fatalf("load name: %v", err)
	}
	if !found || first != "Ana" || last != "García" {
		t.Fatalf("unexpected name: %q %q found=%v", first, last, found)
	}

	mock.ExpectExec("UPDATE customers SET first_name").
		WithArgs("cust-1", "Ana", "García López").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := repo.UpdateName(ctx, "cust-1", "Ana", "García López"); err != nil {
		t.Fatalf("update name: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
