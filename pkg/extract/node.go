package extract

import (
	"errors"
	"log/slog"

	"github.com/randalmurphal/wapiflow/pkg/flowgraph"
	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/wapiflow/pkg/merge"
	"github.com/randalmurphal/wapiflow/pkg/state"
)

// Step configures an extraction node.
type Step struct {
	// Name is the workflow step. The conversation stays on it while the
	// user is asked again.
	Name string

	Chain *Chain

	// Target is the state path the result merges into.
	Target string

	// Next becomes current_step once data has been merged.
	Next string

	// Prompt is the clarification question sent when every tier fails.
	Prompt string

	// MergeOptions are passed to every merge.
	MergeOptions []merge.Option
}

// Node returns a workflow node running the step's chain over the inbound
// message.
//
// On success the result, tagged with its extraction method and the user
// turn, is merged into Target and current_step advances to Next. When all
// tiers fail the node records the failure code once, asks Prompt, keeps
// current_step on Name and pauses. It returns an error only for
// cancellation or a failing merge.
func Node(step Step) flowgraph.NodeFunc[*state.Conversation] {
	if step.Chain == nil {
		panic("extract: step " + step.Name + " has no chain")
	}
	return func(ctx flowgraph.Context, c *state.Conversation) (*state.Conversation, error) {
		result, err := step.Chain.Run(ctx, InputFrom(c))
		if err != nil {
			var failure *flowerrors.ExtractionFailure
			if !errors.As(err, &failure) {
				return c, err
			}
			ctx.Logger().Info("asking user again",
				slog.String("step", step.Name),
				slog.Any("tiers", failure.Tiers),
			)
			c.RecordError(failure.Code())
			if err := c.Set(state.FieldCurrentStep, step.Name); err != nil {
				return c, err
			}
			c.Say(step.Prompt)
			c.Await()
			return c, nil
		}

		opts := append([]merge.Option{merge.WithTurn(c.UserTurns()), merge.WithLogger(ctx.Logger())}, step.MergeOptions...)
		if _, err := merge.Merge(ctx, c, step.Target, result.Tagged(), result.Confidence, opts...); err != nil {
			return c, err
		}
		if step.Next != "" {
			if err := c.Set(state.FieldCurrentStep, step.Next); err != nil {
				return c, err
			}
		}
		return c, nil
	}
}
