package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// CustomerRepo persists Customer rows and implements fsm.CustomerNameLoader
// so the FSM's USE_CUSTOMER_NAME/CORRECT_NAME sub-phases can load and
// update a customer's name without the fsm package importing db directly.
type CustomerRepo struct {
	exec execer
}

// NewCustomerRepo builds a repository backed by pool.
func NewCustomerRepo(pool execer) *CustomerRepo {
	return &CustomerRepo{exec: pool}
}

// FindByPhone returns the customer with phone, if one exists.
func (r *CustomerRepo) FindByPhone(ctx context.Context, phone string) (state.Customer, bool, error) {
	const query = `
		SELECT id, phone, first_name, last_name
		FROM customers
		WHERE phone = $1
	`
	var c state.Customer
	err := r.exec.QueryRow(ctx, query, phone).Scan(&c.ID, &c.Phone, &c.FirstName, &c.LastName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return state.Customer{}, false, nil
		}
		return state.Customer{}, false, fmt.Errorf("db: find customer by phone: %w", err)
	}
	return c, true, nil
}

// Get returns the customer with id, used by the confirmation scheduler to
// resolve an appointment's customer_id back to a phone number and name.
func (r *CustomerRepo) Get(ctx context.Context, id string) (state.Customer, bool, error) {
	const query = `
		SELECT id, phone, first_name, last_name
		FROM customers
		WHERE id = $1
	`
	var c state.Customer
	err := r.exec.QueryRow(ctx, query, id).Scan(&c.ID, &c.Phone, &c.FirstName, &c.LastName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return state.Customer{}, false, nil
		}
		return state.Customer{}, false, fmt.Errorf("db: get customer: %w", err)
	}
	return c, true, nil
}

// GetOrCreate returns the customer for phone, creating a bare record (no
// name yet) on first contact.
func (r *CustomerRepo) GetOrCreate(ctx context.Context, phone string) (state.Customer, error) {
	existing, found, err := r.FindByPhone(ctx, phone)
	if err != nil {
		return state.Customer{}, err
	}
	if found {
		return existing, nil
	}

	const insert = `
		INSERT INTO customers (id, phone, first_name, last_name)
		VALUES ($1, $2, '', '')
		ON CONFLICT (phone) DO UPDATE SET phone = EXCLUDED.phone
		RETURNING id, phone, first_name, last_name
	`
	var c state.Customer
	id := uuid.NewString()
	if err := r.exec.QueryRow(ctx, insert, id, phone).Scan(&c.ID, &c.Phone, &c.FirstName, &c.LastName); err != nil {
		return state.Customer{}, fmt.Errorf("db: create customer: %w", err)
	}
	return c, nil
}

// LoadName implements fsm.CustomerNameLoader.
func (r *CustomerRepo) LoadName(ctx context.Context, customerID string) (string, string, bool, error) {
	const query = `SELECT first_name, last_name FROM customers WHERE id = $1`
	var first, last string
	err := r.exec.QueryRow(ctx, query, customerID).Scan(&first, &last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("db: load customer name: %w", err)
	}
	if first == "" {
		return "", "", false, nil
	}
	return first, last, true, nil
}

// UpdateName implements fsm.CustomerNameLoader.
func (r *CustomerRepo) UpdateName(ctx context.Context, customerID, firstName, lastName string) error {
	const query = `UPDATE customers SET first_name = $2, last_name = $3 WHERE id = $1`
	if _, err := r.exec.Exec(ctx, query, customerID, firstName, lastName); err != nil {
		return fmt.Errorf("db: update customer name: %w", err)
	}
	return nil
}
