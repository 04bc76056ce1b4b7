package backend

import (
	"context"
	"fmt"
	"maps"
	"sync"

	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
)

// Fake is an in-memory Backend for tests and offline chats.
type Fake struct {
	mu        sync.Mutex
	customers map[string]map[string]any // by phone
	vehicles  map[string][]map[string]any
	services  []map[string]any
	slots     []map[string]any
	bookings  []map[string]any
	failures  map[string]error
	calls     map[string]int
	nextID    int
}

// NewFake creates a fake with a small default catalog and no customers.
func NewFake() *Fake {
	return &Fake{
		customers: make(map[string]map[string]any),
		vehicles:  make(map[string][]map[string]any),
		services: []map[string]any{
			{"id": "SRV-WASH", "name": "Exterior Wash", "price": 499.0, "vehicle_types": []any{"hatchback", "sedan", "suv"}},
			{"id": "SRV-DEEP", "name": "Deep Interior Clean", "price": 1499.0, "vehicle_types": []any{"sedan", "suv"}},
			{"id": "SRV-BIKE", "name": "Bike Wash", "price": 199.0, "vehicle_types": []any{"bike"}},
		},
		slots: []map[string]any{
			{"id": "SLOT-AM", "time_slot": "09:00 - 11:00"},
			{"id": "SLOT-PM", "time_slot": "14:00 - 16:00"},
		},
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// AddCustomer registers an existing customer with vehicles.
func (f *Fake) AddCustomer(customer map[string]any, vehicles ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	phone, _ := customer["phone"].(string)
	f.customers[phone] = maps.Clone(customer)
	id, _ := customer["id"].(string)
	for _, v := range vehicles {
		f.vehicles[id] = append(f.vehicles[id], maps.Clone(v))
	}
}

// Fail makes every call to op return err until cleared with a nil err.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// Calls returns how often op was called.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Bookings returns the created bookings.
func (f *Fake) Bookings() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.bookings))
	for i, b := range f.bookings {
		out[i] = maps.Clone(b)
	}
	return out
}

// Do implements Backend.
func (f *Fake) Do(ctx context.Context, op string, params Params) (Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if err := f.failures[op]; err != nil {
		return nil, err
	}

	switch op {
	case OpLookupCustomer:
		phone, _ := params["phone"].(string)
		c, ok := f.customers[phone]
		if !ok {
			return nil, &flowerrors.NotFoundError{Resource: "customer", Message: phone}
		}
		return Response{"customer": maps.Clone(c)}, nil

	case OpRegisterCustomer:
		phone, _ := params["phone"].(string)
		if phone == "" {
			return nil, &flowerrors.ValidationError{Field: "phone", Message: "required"}
		}
		c := map[string]any{"id": f.id("CUST"), "phone": phone}
		for _, k := range []string{"first_name", "last_name"} {
			c[k] = params[k]
		}
		f.customers[phone] = c
		if v, ok := params["vehicle"].(map[string]any); ok {
			vehicle := maps.Clone(v)
			vehicle["id"] = f.id("VEH")
			f.vehicles[c["id"].(string)] = append(f.vehicles[c["id"].(string)], vehicle)
		}
		return Response{"customer": maps.Clone(c)}, nil

	case OpListVehicles:
		id, _ := params["customer_id"].(string)
		return Response{"vehicles": toList(f.vehicles[id])}, nil

	case OpListServices:
		return Response{"services": toList(f.services)}, nil

	case OpListSlots:
		date, _ := params["date"].(string)
		slots := make([]map[string]any, len(f.slots))
		for i, s := range f.slots {
			slots[i] = maps.Clone(s)
			slots[i]["date"] = date
		}
		return Response{"slots": toList(slots)}, nil

	case OpCalculatePrice:
		id, _ := params["service_id"].(string)
		for _, s := range f.services {
			if s["id"] == id {
				return Response{"total": s["price"], "currency": "INR"}, nil
			}
		}
		return nil, &flowerrors.NotFoundError{Resource: "service", Message: id}

	case OpCreateBooking:
		for _, k := range []string{"customer_id", "service_id", "slot_id"} {
			if v, _ := params[k].(string); v == "" {
				return nil, &flowerrors.ValidationError{Field: k, Message: "required"}
			}
		}
		booking := map[string]any(maps.Clone(params))
		booking["booking_id"] = f.id("BK")
		f.bookings = append(f.bookings, booking)
		return Response{"booking_id": booking["booking_id"], "status": "confirmed"}, nil
	}
	return nil, &UnknownOperationError{Op: op}
}

func (f *Fake) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%04d", prefix, f.nextID)
}

func toList(items []map[string]any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = maps.Clone(item)
	}
	return out
}
