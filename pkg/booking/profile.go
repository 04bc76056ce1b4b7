package booking

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/wapiflow/pkg/backend"
	"github.com/randalmurphal/wapiflow/pkg/extract"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph"
	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/wapiflow/pkg/merge"
	"github.com/randalmurphal/wapiflow/pkg/state"
	"github.com/randalmurphal/wapiflow/pkg/telemetry"
)

// Clarification questions asked when every extraction tier fails.
const (
	promptName    = "Welcome! May I have your name, please?"
	promptPhone   = "I couldn't catch a valid 10-digit mobile number. Could you send it again?"
	promptVehicle = "Sorry, I didn't get that. Please share your vehicle's brand and model (e.g. Honda City) or its registration number."
	promptDate    = "I couldn't understand the date. You can say \"tomorrow\" or send a date like 20/03."
)

// NewProfileGroup compiles the customer profile group: lookup of a
// returning customer, or intake of a new one one field per message
// (name, phone, vehicle, date) followed by registration.
func NewProfileGroup(d Deps) (*flowgraph.CompiledGraph[*state.Conversation], error) {
	return newBuilder(d).profile()
}

func (b *builder) profile() (*flowgraph.CompiledGraph[*state.Conversation], error) {
	return flowgraph.NewGraph[*state.Conversation]("profile").
		AddNode("entry", enter, entersGroup).
		AddNode("lookup_customer", b.lookupCustomer,
			flowgraph.Writes(state.FieldCustomer, KeyContact, state.FieldCurrentStep),
			flowgraph.OnFailure(flowgraph.PolicyLog)).
		AddNode("extract_name", extract.Node(extract.Step{
			Name:   StepExtractName,
			Chain:  b.chains.name,
			Target: state.FieldCustomer,
			Next:   StepExtractPhone,
			Prompt: promptName,
		}), flowgraph.Reads(state.FieldUserMessage), replies(state.FieldCustomer)).
		AddNode("confirm_customer", milestone(b.d.Recorder, MilestoneCustomerConfirmed, telemetry.TypeConfirmation)).
		AddNode("ask_phone", ask(StepExtractPhone, func(c *state.Conversation) string {
			return fmt.Sprintf("Thanks %s! What's the best mobile number to reach you on?", greetingName(c))
		}), replies()).
		AddNode("extract_phone", extract.Node(extract.Step{
			Name:   StepExtractPhone,
			Chain:  b.chains.phone,
			Target: KeyContact,
			Next:   StepExtractVehicle,
			Prompt: promptPhone,
		}), flowgraph.Reads(state.FieldUserMessage), replies(KeyContact)).
		AddNode("ask_vehicle", ask(StepExtractVehicle, func(*state.Conversation) string {
			return "Which vehicle should we service? Please share the brand, model and registration number."
		}), replies()).
		AddNode("extract_vehicle", extract.Node(extract.Step{
			Name:   StepExtractVehicle,
			Chain:  b.chains.vehicle,
			Target: state.FieldVehicle,
			Next:   StepExtractDate,
			Prompt: promptVehicle,
		}), flowgraph.Reads(state.FieldUserMessage), replies(state.FieldVehicle)).
		AddNode("ask_date", ask(StepExtractDate, func(*state.Conversation) string {
			return "When would you like the service? You can say today, tomorrow or send a date like 20/03."
		}), replies()).
		AddNode("extract_date", extract.Node(extract.Step{
			Name:   StepExtractDate,
			Chain:  b.chains.date,
			Target: state.FieldAppointment,
			Next:   StepRegisterCustomer,
			Prompt: promptDate,
		}), flowgraph.Reads(state.FieldUserMessage), replies(state.FieldAppointment)).
		AddNode("register_customer", b.registerCustomer,
			flowgraph.Reads(state.FieldCustomer, KeyContact, state.FieldVehicle),
			flowgraph.Writes("customer.id"),
			flowgraph.OnFailure(flowgraph.PolicyLog)).
		AddConditionalEdge("entry", profileEntry, flowgraph.Routes{
			routeDone:    flowgraph.END,
			routeLookup:  "lookup_customer",
			routeName:    "extract_name",
			routePhone:   "extract_phone",
			routeVehicle: "extract_vehicle",
			routeDate:    "extract_date",
			routeCreate:  "register_customer",
		}).
		AddConditionalEdge("lookup_customer", lookupRouter, flowgraph.Routes{
			routeDone: flowgraph.END,
			routeName: "extract_name",
		}).
		AddEdge("extract_name", "confirm_customer").
		AddEdge("confirm_customer", "ask_phone").
		AddEdge("ask_phone", flowgraph.AWAIT).
		AddEdge("extract_phone", "ask_vehicle").
		AddEdge("ask_vehicle", flowgraph.AWAIT).
		AddEdge("extract_vehicle", "ask_date").
		AddEdge("ask_date", flowgraph.AWAIT).
		AddEdge("extract_date", "register_customer").
		AddEdge("register_customer", flowgraph.END).
		SetEntry("entry").
		SetRecoveryHook(apologize).
		Compile()
}

// lookupRouter sends returning customers on and new ones to intake.
func lookupRouter(_ flowgraph.Context, c *state.Conversation) string {
	if c.Has("customer.id") {
		return routeDone
	}
	return routeName
}

// lookupCustomer looks the sender up by the phone number in the
// conversation ID. Not found is the new-customer branch, not a failure.
func (b *builder) lookupCustomer(ctx flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	phone := extract.NormalizePhone(c.ConversationID)
	resp, err := b.d.Backend.Do(ctx, backend.OpLookupCustomer, backend.Params{"phone": phone})
	var notFound *flowerrors.NotFoundError
	if errors.As(err, &notFound) {
		ctx.Logger().Info("new customer", slog.String("phone", phone))
		if err := c.Set(state.FieldCurrentStep, StepExtractName); err != nil {
			return c, err
		}
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("lookup customer: %w", err)
	}

	customer := resp.Map("customer")
	id, _ := customer["id"].(string)
	if id == "" {
		return c, errors.New("lookup customer: response has no customer id")
	}
	record := map[string]any{"id": id}
	for _, k := range []string{"first_name", "last_name"} {
		if v, ok := customer[k].(string); ok {
			record[k] = v
		}
	}
	opts := []merge.Option{merge.WithTurn(c.UserTurns()), merge.WithLogger(ctx.Logger())}
	if _, err := merge.Merge(ctx, c, state.FieldCustomer, record, 1.0, opts...); err != nil {
		return c, err
	}
	if _, err := merge.Merge(ctx, c, KeyContact, map[string]any{"phone": phone}, 1.0, opts...); err != nil {
		return c, err
	}
	if err := c.Set(state.FieldCurrentStep, StepCustomerFound); err != nil {
		return c, err
	}
	b.d.Recorder.Once(ctx, c, MilestoneCustomerConfirmed, telemetry.TypeConfirmation)
	return c, nil
}

// registerCustomer creates the collected profile upstream, together with
// the vehicle the customer named.
func (b *builder) registerCustomer(ctx flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	phone, _ := c.GetString(KeyContact + ".phone")
	first, _ := c.GetString("customer.first_name")
	last, _ := c.GetString("customer.last_name")
	params := backend.Params{
		"first_name": first,
		"last_name":  last,
		"phone":      phone,
		"vehicle":    vehicleParams(c),
	}
	resp, err := b.d.Backend.Do(ctx, backend.OpRegisterCustomer, params)
	if err != nil {
		return c, fmt.Errorf("register customer: %w", err)
	}
	id, _ := resp.Map("customer")["id"].(string)
	if id == "" {
		return c, errors.New("register customer: response has no customer id")
	}
	if err := c.Set("customer.id", id); err != nil {
		return c, err
	}
	b.d.Recorder.Once(ctx, c, MilestoneCustomerRegistered, telemetry.TypeProgress)
	return c, nil
}

func vehicleParams(c *state.Conversation) map[string]any {
	out := make(map[string]any)
	for _, k := range []string{"brand", "model", "plate", "vehicle_type"} {
		if v, ok := c.GetString("vehicle." + k); ok && v != "" {
			out[k] = v
		}
	}
	return out
}
