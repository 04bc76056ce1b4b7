package booking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/wapiflow/pkg/backend"
	"github.com/randalmurphal/wapiflow/pkg/extract"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph"
	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/wapiflow/pkg/merge"
	"github.com/randalmurphal/wapiflow/pkg/state"
	"github.com/randalmurphal/wapiflow/pkg/telemetry"
)

const (
	routeConfirmed = "confirmed"
	routeCancelled = "cancelled"

	promptConfirm = "Please reply YES to confirm the booking or NO to cancel it."
)

// NewBookingGroup compiles the confirmation group: price the selection,
// show a summary, read the yes/no answer and create or cancel the booking.
func NewBookingGroup(d Deps) (*flowgraph.CompiledGraph[*state.Conversation], error) {
	return newBuilder(d).booking()
}

func (b *builder) booking() (*flowgraph.CompiledGraph[*state.Conversation], error) {
	return flowgraph.NewGraph[*state.Conversation]("booking").
		AddNode("entry", enter, entersGroup).
		AddNode("calculate_price", b.calculatePrice,
			flowgraph.Reads(state.FieldSelectedService, state.FieldVehicle),
			flowgraph.Writes(KeyPrice),
			flowgraph.OnFailure(flowgraph.PolicyLog)).
		AddNode("confirm_prompt", b.confirmPrompt, replies(KeyPendingConfirm)).
		AddNode("extract_confirmation", extract.Node(extract.Step{
			Name:         StepAwaitConfirmation,
			Chain:        b.chains.confirmation,
			Target:       KeyConfirmation,
			Prompt:       promptConfirm,
			MergeOptions: []merge.Option{merge.WithFunc(latestWins)},
		}), flowgraph.Reads(state.FieldUserMessage), replies(KeyConfirmation)).
		AddNode("guard_booking", guardBooking,
			flowgraph.Reads("customer.id"),
			flowgraph.OnFailure(flowgraph.PolicyRaise)).
		AddNode("create_booking", b.createBooking,
			flowgraph.Reads("customer.id", "vehicle.id", "selected_service.id", KeySlot),
			flowgraph.Writes(KeyBookingID, KeyPendingConfirm, state.FieldCurrentStep, state.FieldCompleteness, state.FieldResponse),
			flowgraph.OnFailure(flowgraph.PolicyLog)).
		AddNode("cancel_booking", b.cancelBooking,
			flowgraph.Writes(KeyPendingConfirm, state.FieldCurrentStep, state.FieldResponse)).
		AddConditionalEdge("entry", bookingEntry, flowgraph.Routes{
			routeDone:   flowgraph.END,
			routeResume: "extract_confirmation",
			routeFetch:  "calculate_price",
		}).
		AddEdge("calculate_price", "confirm_prompt").
		AddEdge("confirm_prompt", flowgraph.AWAIT).
		AddConditionalEdge("extract_confirmation", confirmationRouter, flowgraph.Routes{
			routeConfirmed: "guard_booking",
			routeCancelled: "cancel_booking",
		}).
		AddEdge("guard_booking", "create_booking").
		AddEdge("create_booking", flowgraph.END).
		AddEdge("cancel_booking", flowgraph.END).
		SetEntry("entry").
		SetRecoveryHook(apologize).
		Compile()
}

func confirmationRouter(_ flowgraph.Context, c *state.Conversation) string {
	if c.GetBool(KeyConfirmation + ".confirmed") {
		return routeConfirmed
	}
	return routeCancelled
}

func (b *builder) calculatePrice(ctx flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	serviceID, _ := c.GetString("selected_service.id")
	vehicleID, _ := c.GetString("vehicle.id")
	resp, err := b.d.Backend.Do(ctx, backend.OpCalculatePrice, backend.Params{
		"service_id": serviceID,
		"vehicle_id": vehicleID,
	})
	if err != nil {
		return c, fmt.Errorf("calculate price: %w", err)
	}
	total, ok := state.ToFloat(resp["total"])
	if !ok {
		return c, errors.New("calculate price: response has no total")
	}
	currency := resp.String("currency")
	if currency == "" {
		currency = "INR"
	}
	return c, c.Set(KeyPrice, map[string]any{"total": total, "currency": currency})
}

func (b *builder) confirmPrompt(ctx flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	c.Say(Summary(c))
	if err := c.Set(KeyPendingConfirm, true); err != nil {
		return c, err
	}
	if err := c.Set(state.FieldCurrentStep, StepAwaitConfirmation); err != nil {
		return c, err
	}
	b.d.Recorder.Once(ctx, c, MilestoneSummaryShown, telemetry.TypeConfirmation)
	c.Await()
	return c, nil
}

// Summary renders the booking for confirmation.
func Summary(c *state.Conversation) string {
	var lines []string
	lines = append(lines, "Please confirm your booking:")
	if name, ok := c.GetString("selected_service.name"); ok {
		lines = append(lines, "Service: "+name)
	}
	if v, ok := c.GetMap(state.FieldVehicle); ok {
		lines = append(lines, "Vehicle: "+vehicleLabel(v))
	}
	if s, ok := c.GetMap(KeySlot); ok {
		lines = append(lines, strings.TrimSpace("Slot: "+str(s, "date")+" "+str(s, "time_slot")))
	}
	if total, ok := c.GetFloat(KeyPrice + ".total"); ok {
		lines = append(lines, fmt.Sprintf("Price: ₹%.0f", total))
	}
	lines = append(lines, promptConfirm)
	return strings.Join(lines, "\n")
}

// guardBooking refuses to create a booking without a customer.
func guardBooking(_ flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	if !c.Has("customer.id") {
		return c, flowerrors.MissingParam("create_booking", "customer.id")
	}
	return c, nil
}

func (b *builder) createBooking(ctx flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	params := backend.Params{}
	for param, path := range map[string]string{
		"customer_id": "customer.id",
		"vehicle_id":  "vehicle.id",
		"service_id":  "selected_service.id",
		"slot_id":     KeySlot + ".id",
		"date":        KeySlot + ".date",
		"time_slot":   KeySlot + ".time_slot",
	} {
		if v, ok := c.GetString(path); ok && v != "" {
			params[param] = v
		}
	}
	resp, err := b.d.Backend.Do(ctx, backend.OpCreateBooking, params)
	if err != nil {
		return c, fmt.Errorf("create booking: %w", err)
	}
	id := resp.String(KeyBookingID)
	if id == "" {
		return c, errors.New("create booking: response has no booking id")
	}
	if err := c.Set(KeyBookingID, id); err != nil {
		return c, err
	}
	if err := c.Set(KeyPendingConfirm, false); err != nil {
		return c, err
	}
	if err := c.Set(state.FieldCurrentStep, StepBookingComplete); err != nil {
		return c, err
	}
	if err := c.Set(state.FieldCompleteness, Completeness(c)); err != nil {
		return c, err
	}
	b.d.Recorder.Once(ctx, c, MilestoneBookingCreated, telemetry.TypeTerminal)
	c.Say(fmt.Sprintf("Your booking is confirmed! Booking ID: %s. See you soon, %s.", id, greetingName(c)))
	return c, nil
}

func (b *builder) cancelBooking(ctx flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	if err := c.Set(KeyPendingConfirm, false); err != nil {
		return c, err
	}
	if err := c.Set(state.FieldCurrentStep, StepBookingCancelled); err != nil {
		return c, err
	}
	b.d.Recorder.Once(ctx, c, MilestoneBookingCancelled, telemetry.TypeTerminal)
	c.Say("No problem, I've cancelled this booking. Message us any time to book again.")
	return c, nil
}
