package tools

import (
	"context"
	"fmt"
)

// manageCustomer implements the manage_customer tool: customer
// upsert/update, the one mutating tool the non-booking handler's LLM is
// still allowed to pick since it never touches the booking flow's
// guarded state.
func (r *Registry) manageCustomer(ctx context.Context, args Args) (Result, error) {
	action := str(args, "action")
	phone := str(args, "phone")
	if phone == "" {
		return nil, fmt.Errorf("tools: manage_customer: phone is required")
	}

	switch action {
	case "get", "":
		customer, found, err := r.cfg.Customers.FindByPhone(ctx, phone)
		if err != nil {
			return nil, fmt.Errorf("tools: manage_customer get: %w", err)
		}
		if !found {
			return Result{"found": false}, nil
		}
		return Result{
			"found":       true,
			"customer_id": customer.ID,
			"first_name":  customer.FirstName,
			"last_name":   customer.LastName,
		}, nil

	case "get_or_create":
		customer, err := r.cfg.Customers.GetOrCreate(ctx, phone)
		if err != nil {
			return nil, fmt.Errorf("tools: manage_customer get_or_create: %w", err)
		}
		return Result{
			"customer_id": customer.ID,
			"first_name":  customer.FirstName,
			"last_name":   customer.LastName,
		}, nil

	case "update_name":
		customer, err := r.cfg.Customers.GetOrCreate(ctx, phone)
		if err != nil {
			return nil, fmt.Errorf("tools: manage_customer update_name: %w", err)
		}
		data, _ := args["data"].(map[string]any)
		firstName, _ := data["first_name"].(string)
		lastName, _ := data["last_name"].(string)
		if firstName == "" {
			return nil, fmt.Errorf("tools: manage_customer update_name: data.first_name is required")
		}
		if err := r.cfg.Customers.UpdateName(ctx, customer.ID, firstName, lastName); err != nil {
			return nil, fmt.Errorf("tools: manage_customer update_name: %w", err)
		}
		return Result{"customer_id": customer.ID, "first_name": firstName, "last_name": lastName}, nil

	default:
		return nil, fmt.Errorf("tools: manage_customer: unknown action %q", action)
	}
}
