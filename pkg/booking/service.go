package booking

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/wapiflow/pkg/backend"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph"
	"github.com/randalmurphal/wapiflow/pkg/state"
)

// NewServiceGroup compiles the service group. The catalog is filtered to
// services offered for the selected vehicle's type.
func NewServiceGroup(d Deps) (*flowgraph.CompiledGraph[*state.Conversation], error) {
	return newBuilder(d).service()
}

func (b *builder) service() (*flowgraph.CompiledGraph[*state.Conversation], error) {
	return groupSpec{
		choice: choice{
			noun:       "service",
			optionsKey: KeyFilteredServices,
			flagKey:    KeyServiceSelected,
			target:     state.FieldSelectedService,
			milestone:  MilestoneServiceSelected,
			awaitStep:  StepAwaitService,
			question: func(c *state.Conversation) string {
				if v, ok := c.GetMap(state.FieldVehicle); ok && vehicleLabel(v) != "" {
					return fmt.Sprintf("Which service would you like for your %s?", vehicleLabel(v))
				}
				return "Which service would you like?"
			},
			label:    serviceLabel,
			chain:    b.chains.selection,
			recorder: b.d.Recorder,
		},
		fetch: b.fetchServices,
		none:  noServices,
	}.compile("service")
}

func (b *builder) fetchServices(ctx flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	resp, err := b.d.Backend.Do(ctx, backend.OpListServices, backend.Params{})
	if err != nil {
		return c, fmt.Errorf("list services: %w", err)
	}
	vehicleType, _ := c.GetString("vehicle.vehicle_type")
	return c, c.Set(KeyFilteredServices, FilterServices(resp.List("services"), vehicleType))
}

// FilterServices keeps the services offered for vehicleType. Services
// that list no vehicle types, or an unknown vehicleType, match everything.
func FilterServices(services []map[string]any, vehicleType string) []map[string]any {
	if vehicleType == "" {
		return services
	}
	out := make([]map[string]any, 0, len(services))
	for _, s := range services {
		types, _ := s["vehicle_types"].([]any)
		if len(types) == 0 {
			out = append(out, s)
			continue
		}
		for _, t := range types {
			if name, ok := t.(string); ok && strings.EqualFold(name, vehicleType) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func noServices(_ flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	if err := c.Set(state.FieldCurrentStep, StepNoServices); err != nil {
		return c, err
	}
	c.Say("Sorry, we don't have any services available for your vehicle right now. Send any message to check again.")
	c.Await()
	return c, nil
}

func serviceLabel(s map[string]any) string {
	if price, ok := state.ToFloat(s["price"]); ok {
		return fmt.Sprintf("%s - ₹%.0f", str(s, "name"), price)
	}
	return str(s, "name")
}
