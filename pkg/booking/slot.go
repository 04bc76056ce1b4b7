package booking

import (
	"fmt"
	"maps"

	"github.com/randalmurphal/wapiflow/pkg/backend"
	"github.com/randalmurphal/wapiflow/pkg/extract"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph"
	"github.com/randalmurphal/wapiflow/pkg/merge"
	"github.com/randalmurphal/wapiflow/pkg/state"
)

const dateLayout = "2006-01-02"

// NewSlotGroup compiles the slot group. Slots are fetched for the
// requested appointment date, or today when none was given. When a date
// has no free slots the customer is asked for another.
func NewSlotGroup(d Deps) (*flowgraph.CompiledGraph[*state.Conversation], error) {
	return newBuilder(d).slot()
}

func (b *builder) slot() (*flowgraph.CompiledGraph[*state.Conversation], error) {
	spec := groupSpec{
		choice: choice{
			noun:       "slot",
			optionsKey: KeySlotOptions,
			flagKey:    KeySlotSelected,
			target:     KeySlot,
			milestone:  MilestoneSlotSelected,
			awaitStep:  StepAwaitSlot,
			question: func(c *state.Conversation) string {
				return fmt.Sprintf("Here are the free slots on %s. Which one suits you?", b.appointmentDate(c))
			},
			label:    func(s map[string]any) string { return str(s, "time_slot") },
			chain:    b.chains.selection,
			recorder: b.d.Recorder,
		},
		fetch: b.fetchSlots,
		none:  b.noSlots,
	}
	spec.entry = func(ctx flowgraph.Context, c *state.Conversation) string {
		if c.CurrentStep == StepNoSlots && !c.GetBool(KeySlotSelected) {
			return routeCapture
		}
		return selectionEntry(KeySlotOptions, KeySlotSelected)(ctx, c)
	}
	spec.extraRoutes = flowgraph.Routes{routeCapture: "capture_date"}
	spec.extraNodes = func(g *flowgraph.Graph[*state.Conversation]) *flowgraph.Graph[*state.Conversation] {
		return g.
			AddNode("capture_date", extract.Node(extract.Step{
				Name:         StepNoSlots,
				Chain:        b.chains.date,
				Target:       state.FieldAppointment,
				Prompt:       promptDate,
				MergeOptions: []merge.Option{merge.WithFunc(latestWins)},
			}), replies(state.FieldAppointment)).
			AddEdge("capture_date", "fetch_slots")
	}
	return spec.compile("slot")
}

func (b *builder) appointmentDate(c *state.Conversation) string {
	if date, ok := c.GetString("appointment.date"); ok && date != "" {
		return date
	}
	return b.d.Now().Format(dateLayout)
}

func (b *builder) fetchSlots(ctx flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	resp, err := b.d.Backend.Do(ctx, backend.OpListSlots, backend.Params{"date": b.appointmentDate(c)})
	if err != nil {
		return c, fmt.Errorf("list slots: %w", err)
	}
	return c, c.Set(KeySlotOptions, resp.List("slots"))
}

func (b *builder) noSlots(_ flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	if err := c.Set(state.FieldCurrentStep, StepNoSlots); err != nil {
		return c, err
	}
	c.Say(fmt.Sprintf("Sorry, there are no free slots on %s. Which other date works for you?", b.appointmentDate(c)))
	c.Await()
	return c, nil
}

// latestWins lets a corrected answer replace the earlier one regardless
// of confidence.
func latestWins(existing, incoming map[string]any, _, _ float64) (map[string]any, error) {
	maps.Copy(existing, incoming)
	return existing, nil
}
