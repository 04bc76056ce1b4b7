package booking

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/wapiflow/pkg/backend"
	"github.com/randalmurphal/wapiflow/pkg/extract"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph"
	"github.com/randalmurphal/wapiflow/pkg/state"
	"github.com/randalmurphal/wapiflow/pkg/telemetry"
)

const routeCapture = "capture"

// NewVehicleGroup compiles the vehicle group: fetch the customer's
// vehicles, select the only one or present a menu, then read the choice.
// A customer with no vehicle on record is asked to describe one.
func NewVehicleGroup(d Deps) (*flowgraph.CompiledGraph[*state.Conversation], error) {
	return newBuilder(d).vehicle()
}

func (b *builder) vehicle() (*flowgraph.CompiledGraph[*state.Conversation], error) {
	spec := groupSpec{
		choice: choice{
			noun:       "vehicle",
			optionsKey: KeyVehicleOptions,
			flagKey:    KeyVehicleSelected,
			target:     state.FieldVehicle,
			milestone:  MilestoneVehicleSelected,
			awaitStep:  StepAwaitVehicle,
			question: func(c *state.Conversation) string {
				return fmt.Sprintf("Hi %s! Which vehicle would you like to get serviced?", greetingName(c))
			},
			label:    vehicleLabel,
			chain:    b.chains.selection,
			recorder: b.d.Recorder,
		},
		fetch: b.fetchVehicles,
	}
	spec.none = b.noVehicles(spec.choice)
	spec.noneWrites = []string{KeyVehicleSelected}
	spec.entry = func(ctx flowgraph.Context, c *state.Conversation) string {
		if c.CurrentStep == StepNoVehicles && !c.GetBool(KeyVehicleSelected) {
			return routeCapture
		}
		return selectionEntry(KeyVehicleOptions, KeyVehicleSelected)(ctx, c)
	}
	spec.extraRoutes = flowgraph.Routes{routeCapture: "capture_vehicle"}
	spec.extraNodes = func(g *flowgraph.Graph[*state.Conversation]) *flowgraph.Graph[*state.Conversation] {
		return g.
			AddNode("capture_vehicle", extract.Node(extract.Step{
				Name:   StepNoVehicles,
				Chain:  b.chains.vehicle,
				Target: state.FieldVehicle,
				Prompt: promptVehicle,
			}), replies(state.FieldVehicle)).
			AddEdge("capture_vehicle", "no_vehicles")
	}
	return spec.compile("vehicle")
}

func (b *builder) fetchVehicles(ctx flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	id, _ := c.GetString("customer.id")
	resp, err := b.d.Backend.Do(ctx, backend.OpListVehicles, backend.Params{"customer_id": id})
	if err != nil {
		return c, fmt.Errorf("list vehicles: %w", err)
	}
	return c, c.Set(KeyVehicleOptions, resp.List("vehicles"))
}

// noVehicles adopts a vehicle the customer already described, or asks
// for one.
func (b *builder) noVehicles(ch choice) node {
	return func(ctx flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
		if c.Has("vehicle.brand") || c.Has("vehicle.plate") {
			if err := c.Set(KeyVehicleSelected, true); err != nil {
				return c, err
			}
			b.d.Recorder.Once(ctx, c, ch.milestone, telemetry.TypeProgress)
			return c, nil
		}
		if err := c.Set(state.FieldCurrentStep, StepNoVehicles); err != nil {
			return c, err
		}
		c.Say(fmt.Sprintf("Hi %s! I couldn't find a vehicle on your profile. Which vehicle should we service? Please share the brand, model and registration number.", greetingName(c)))
		c.Await()
		return c, nil
	}
}

func vehicleLabel(v map[string]any) string {
	name := strings.TrimSpace(str(v, "brand") + " " + str(v, "model"))
	if plate := str(v, "plate"); plate != "" {
		if name == "" {
			return plate
		}
		return name + " (" + plate + ")"
	}
	return name
}
