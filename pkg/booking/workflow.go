package booking

import (
	"fmt"

	"github.com/randalmurphal/wapiflow/pkg/extract"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph"
	"github.com/randalmurphal/wapiflow/pkg/state"
)

// LLM instructions per extracted field.
const (
	nameInstructions    = `Extract the customer's name as {"first_name": "...", "last_name": "..."}. Greetings and thanks are not names.`
	phoneInstructions   = `Extract an Indian mobile number as {"phone": "<10 digits>"} without country code.`
	vehicleInstructions = `Extract the vehicle as {"brand": "...", "model": "...", "plate": "<registration, no spaces, uppercase>"}.`
	dateInstructions    = `Extract the requested service date as {"date": "YYYY-MM-DD"}, resolving words like "tomorrow" against today's date.`
)

var (
	nameSchema    = extract.MustCompileSchema("name", extract.NameSchema)
	phoneSchema   = extract.MustCompileSchema("phone", extract.PhoneSchema)
	vehicleSchema = extract.MustCompileSchema("vehicle", extract.VehicleSchema)
	dateSchema    = extract.MustCompileSchema("date", extract.DateSchema)
)

type chains struct {
	name         *extract.Chain
	phone        *extract.Chain
	vehicle      *extract.Chain
	date         *extract.Chain
	selection    *extract.Chain
	confirmation *extract.Chain
}

// builder holds what every group is built from.
type builder struct {
	d      Deps
	chains chains
}

func newBuilder(d Deps) *builder {
	d = d.withDefaults()
	return &builder{d: d, chains: newChains(d)}
}

// newChains puts the LLM tier, when configured, ahead of each field's
// pattern or rule tier.
func newChains(d Deps) chains {
	opts := []extract.ChainOption{extract.WithLogger(d.Logger), extract.WithMetrics(d.Metrics)}
	build := func(field, instructions string, schema *extract.Schema, fallback extract.Tier) *extract.Chain {
		var tiers []extract.Tier
		if d.LLM != nil && instructions != "" {
			primary := extract.LLMTier(d.LLM, field, instructions, d.PrimaryTimeout)
			llmExtractor := extract.NewLLMExtractor(d.LLM, field, instructions).WithClock(d.Now)
			primary.Extractor = extract.SchemaValidated(llmExtractor, schema)
			tiers = append(tiers, primary)
		}
		fallback.Timeout = d.PatternTimeout
		return extract.NewChain(field, append(tiers, fallback), opts...)
	}
	return chains{
		name:         build(state.FieldCustomer, nameInstructions, nameSchema, extract.NameTier()),
		phone:        build(KeyContact, phoneInstructions, phoneSchema, extract.PhoneTier()),
		vehicle:      build(state.FieldVehicle, vehicleInstructions, vehicleSchema, extract.VehicleTier()),
		date:         build(state.FieldAppointment, dateInstructions, dateSchema, extract.DateTier(d.Now)),
		selection:    build("selection", "", nil, extract.SelectionTier()),
		confirmation: build("confirmation", "", nil, extract.ConfirmationTier()),
	}
}

// Build compiles the booking workflow:
//
//	resume ─┬─ fresh ──────── profile ─ vehicle ─ service ─ slot ─ booking ─ END
//	        ├─ vehicle ─────────────────┘         │         │      │
//	        ├─ service ───────────────────────────┘         │      │
//	        ├─ slot ────────────────────────────────────────┘      │
//	        └─ confirmation ───────────────────────────────────────┘
//
// Each group re-checks its own entry condition, so groups already done
// pass straight through.
func Build(d Deps) (*flowgraph.CompiledGraph[*state.Conversation], error) {
	b := newBuilder(d)
	groups := []struct {
		id      string
		compile func() (*flowgraph.CompiledGraph[*state.Conversation], error)
	}{
		{"profile", b.profile},
		{"vehicle", b.vehicle},
		{"service", b.service},
		{"slot", b.slot},
		{"booking", b.booking},
	}

	g := flowgraph.NewGraph[*state.Conversation]("booking_workflow").
		AddNode("resume", enter, entersGroup)
	for i, grp := range groups {
		compiled, err := grp.compile()
		if err != nil {
			return nil, fmt.Errorf("compile %s group: %w", grp.id, err)
		}
		g.AddSubgraph(grp.id, compiled)
		next := flowgraph.END
		if i+1 < len(groups) {
			next = groups[i+1].id
		}
		g.AddEdge(grp.id, next)
	}
	return g.
		AddConditionalEdge("resume", resumeRouter, flowgraph.Routes{
			RouteFresh:        "profile",
			RouteVehicle:      "vehicle",
			RouteService:      "service",
			RouteSlot:         "slot",
			RouteConfirmation: "booking",
		}).
		SetEntry("resume").
		Compile()
}

// MustBuild is Build for static configurations.
func MustBuild(d Deps) *flowgraph.CompiledGraph[*state.Conversation] {
	g, err := Build(d)
	if err != nil {
		panic(err)
	}
	return g
}
