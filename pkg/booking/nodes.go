package booking

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/wapiflow/pkg/flowgraph"
	"github.com/randalmurphal/wapiflow/pkg/state"
	"github.com/randalmurphal/wapiflow/pkg/telemetry"
)

type node = flowgraph.NodeFunc[*state.Conversation]

// RequiredFields are the records a complete booking needs.
var RequiredFields = []string{state.FieldCustomer, state.FieldVehicle, state.FieldSelectedService, KeySlot}

// Completeness is the fraction of RequiredFields populated.
func Completeness(c *state.Conversation) float64 {
	n := 0
	for _, f := range RequiredFields {
		if c.Has(f) {
			n++
		}
	}
	return float64(n) / float64(len(RequiredFields))
}

// replies declares the core fields a node writes when it answers and
// pauses, plus the paths it fills.
func replies(paths ...string) flowgraph.NodeOption {
	return flowgraph.Writes(append([]string{state.FieldCurrentStep, state.FieldResponse, state.FieldShouldProceed}, paths...)...)
}

// entersGroup declares what enter writes.
var entersGroup = flowgraph.Writes(state.FieldCompleteness)

// enter is a group's entry node. Group boundaries refresh completeness.
func enter(_ flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	if err := c.Set(state.FieldCompleteness, Completeness(c)); err != nil {
		return c, err
	}
	return c, nil
}

// ask sends a question, moves to step and pauses.
func ask(step string, question func(c *state.Conversation) string) node {
	return func(_ flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
		c.Say(question(c))
		if err := c.Set(state.FieldCurrentStep, step); err != nil {
			return c, err
		}
		c.Await()
		return c, nil
	}
}

// milestone records name once per conversation.
func milestone(rec *telemetry.Recorder, name, typ string) node {
	return func(ctx flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
		rec.Once(ctx, c, name, typ)
		return c, nil
	}
}

// stepLabels name what a node was doing, for apologies.
var stepLabels = map[string]string{
	"lookup_customer":   "looking up your profile",
	"register_customer": "saving your details",
	"fetch_vehicles":    "fetching your vehicles",
	"fetch_services":    "fetching our services",
	"fetch_slots":       "checking available slots",
	"calculate_price":   "calculating your price",
	"create_booking":    "creating your booking",
}

// apologize is every group's recovery hook: a collaborator failure becomes
// an apology naming the step, and the conversation waits on the same
// current_step for the user to try again.
func apologize(_ flowgraph.Context, nodeID, _ string, c *state.Conversation) *state.Conversation {
	label, ok := stepLabels[nodeID]
	if !ok {
		label = "processing your message"
	}
	c.Say(fmt.Sprintf("Sorry, something went wrong while %s. Please send your message again.", label))
	c.Await()
	return c
}

// greetingName returns the customer's first name or "there".
func greetingName(c *state.Conversation) string {
	if name, ok := c.GetString("customer.first_name"); ok && name != "" {
		return name
	}
	return "there"
}

// numbered renders options as "1. label" lines.
func numbered(options []any, label func(map[string]any) string) string {
	var b strings.Builder
	for i, o := range options {
		m, _ := o.(map[string]any)
		fmt.Fprintf(&b, "\n%d. %s", i+1, label(m))
	}
	return b.String()
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
