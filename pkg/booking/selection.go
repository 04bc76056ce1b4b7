package booking

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/wapiflow/pkg/extract"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph"
	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/wapiflow/pkg/merge"
	"github.com/randalmurphal/wapiflow/pkg/state"
	"github.com/randalmurphal/wapiflow/pkg/telemetry"
)

// Option counts returned by fetch routers.
const (
	countNone = "none"
	countOne  = "one"
	countMany = "many"
)

// choice describes a fetch, present, select group: options are fetched
// into optionsKey, shown as a numbered list, and the user's pick is
// merged into target.
type choice struct {
	// noun names the choice in node IDs and error codes.
	noun       string
	optionsKey string
	flagKey    string
	target     string
	milestone  string
	awaitStep  string
	question   func(c *state.Conversation) string
	label      func(option map[string]any) string

	chain    *extract.Chain
	recorder *telemetry.Recorder
}

// countRouter routes on how many options the fetch produced.
func (ch choice) countRouter(_ flowgraph.Context, c *state.Conversation) string {
	options, _ := c.GetList(ch.optionsKey)
	switch len(options) {
	case 0:
		return countNone
	case 1:
		return countOne
	default:
		return countMany
	}
}

// menu renders the question followed by the numbered options.
func (ch choice) menu(c *state.Conversation) string {
	options, _ := c.GetList(ch.optionsKey)
	return ch.question(c) + numbered(options, ch.label)
}

// present shows the options and pauses.
func (ch choice) present() node {
	return ask(ch.awaitStep, ch.menu)
}

// autoSelect picks the only option without asking.
func (ch choice) autoSelect(ctx flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	options, _ := c.GetList(ch.optionsKey)
	option, _ := options[0].(map[string]any)
	ctx.Logger().Info("single option, selecting it", slog.String("choice", ch.noun))
	return c, ch.choose(ctx, c, option)
}

// selectNode maps the user's 1-based answer onto the presented options.
// An unreadable or out-of-range answer repeats the menu.
func (ch choice) selectNode(ctx flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
	result, err := ch.chain.Run(ctx, extract.InputFrom(c))
	if err != nil {
		var failure *flowerrors.ExtractionFailure
		if !errors.As(err, &failure) {
			return c, err
		}
		c.RecordError(failure.Code())
		return ch.again(c, "Please reply with the number of your choice.")
	}

	options, _ := c.GetList(ch.optionsKey)
	index, _ := state.ToFloat(result.Fields["index"])
	i := int(index)
	if i < 1 || i > len(options) {
		c.RecordError(ch.noun + "_selection_invalid")
		return ch.again(c, fmt.Sprintf("Please pick a number between 1 and %d.", len(options)))
	}
	option, _ := options[i-1].(map[string]any)
	return c, ch.choose(ctx, c, option)
}

func (ch choice) again(c *state.Conversation, hint string) (*state.Conversation, error) {
	c.Say(hint + "\n" + ch.menu(c))
	if err := c.Set(state.FieldCurrentStep, ch.awaitStep); err != nil {
		return c, err
	}
	c.Await()
	return c, nil
}

// choose merges option into the target at full confidence and marks the
// choice made.
func (ch choice) choose(ctx flowgraph.Context, c *state.Conversation, option map[string]any) error {
	if option == nil {
		return fmt.Errorf("%s option is not a mapping", ch.noun)
	}
	_, err := merge.Merge(ctx, c, ch.target, option, 1.0,
		merge.WithTurn(c.UserTurns()),
		merge.WithLogger(ctx.Logger()),
	)
	if err != nil {
		return err
	}
	if err := c.Set(ch.flagKey, true); err != nil {
		return err
	}
	ch.recorder.Once(ctx, c, ch.milestone, telemetry.TypeProgress)
	return nil
}

// groupSpec adds the fetch and empty-result nodes to a choice.
type groupSpec struct {
	choice

	fetch flowgraph.NodeFunc[*state.Conversation]
	none  flowgraph.NodeFunc[*state.Conversation]

	// noneWrites are the paths none fills besides its reply.
	noneWrites []string

	// entry overrides selectionEntry. extraRoutes and extraNodes extend
	// the graph for it.
	entry       flowgraph.RouterFunc[*state.Conversation]
	extraRoutes flowgraph.Routes
	extraNodes  func(g *flowgraph.Graph[*state.Conversation]) *flowgraph.Graph[*state.Conversation]
}

// compile builds:
//
//	entry ─┬─ done ──────────────────────────── END
//	       ├─ resume ─ select_<noun> ────────── END
//	       └─ fetch ── fetch_<noun> ─┬─ none ── no_<noun>s ─── END
//	                                 ├─ one ─── auto_select_<noun> ─ END
//	                                 └─ many ── present_<noun> ─ AWAIT
func (gs groupSpec) compile(name string) (*flowgraph.CompiledGraph[*state.Conversation], error) {
	fetchID := "fetch_" + gs.noun + "s"
	selectID := "select_" + gs.noun
	autoID := "auto_select_" + gs.noun
	presentID := "present_" + gs.noun + "s"
	noneID := "no_" + gs.noun + "s"

	entry := gs.entry
	if entry == nil {
		entry = selectionEntry(gs.optionsKey, gs.flagKey)
	}
	routes := flowgraph.Routes{
		routeDone:   flowgraph.END,
		routeResume: selectID,
		routeFetch:  fetchID,
	}
	for outcome, target := range gs.extraRoutes {
		routes[outcome] = target
	}

	g := flowgraph.NewGraph[*state.Conversation](name).
		AddNode("entry", enter, entersGroup).
		AddNode(fetchID, gs.fetch, flowgraph.Writes(gs.optionsKey), flowgraph.OnFailure(flowgraph.PolicyLog)).
		AddNode(autoID, gs.autoSelect, flowgraph.Reads(gs.optionsKey), flowgraph.Writes(gs.target, gs.flagKey)).
		AddNode(presentID, gs.present(), flowgraph.Reads(gs.optionsKey), replies()).
		AddNode(selectID, gs.selectNode, flowgraph.Reads(gs.optionsKey), replies(gs.target, gs.flagKey)).
		AddNode(noneID, gs.none, replies(gs.noneWrites...)).
		AddConditionalEdge("entry", entry, routes).
		AddConditionalEdge(fetchID, gs.countRouter, flowgraph.Routes{
			countNone: noneID,
			countOne:  autoID,
			countMany: presentID,
		}).
		AddEdge(autoID, flowgraph.END).
		AddEdge(presentID, flowgraph.AWAIT).
		AddEdge(selectID, flowgraph.END).
		AddEdge(noneID, flowgraph.END).
		SetEntry("entry").
		SetRecoveryHook(apologize)
	if gs.extraNodes != nil {
		g = gs.extraNodes(g)
	}
	return g.Compile()
}
