package booking

import (
	"github.com/randalmurphal/wapiflow/pkg/flowgraph"
	"github.com/randalmurphal/wapiflow/pkg/state"
)

// Resume routes, in precedence order. Earlier pipeline stages win so a
// user cannot skip ahead by accident.
const (
	RouteVehicle      = "vehicle"
	RouteService      = "service"
	RouteSlot         = "slot"
	RouteConfirmation = "confirmation"
	RouteFresh        = "fresh"
)

// Phase is the conversation's position in the abstract booking machine.
type Phase string

const (
	PhaseFreshStart           Phase = "fresh_start"
	PhaseAwaitingVehicle      Phase = "awaiting_vehicle"
	PhaseAwaitingService      Phase = "awaiting_service"
	PhaseAwaitingSlot         Phase = "awaiting_slot"
	PhaseAwaitingConfirmation Phase = "awaiting_confirmation"
	PhaseTerminalSuccess      Phase = "terminal_success"
	PhaseTerminalCancelled    Phase = "terminal_cancelled"
)

// Resume picks where an inbound message continues. It reads state only.
func Resume(c *state.Conversation) string {
	switch {
	case pending(c, KeyVehicleOptions, KeyVehicleSelected):
		return RouteVehicle
	case pending(c, KeyFilteredServices, KeyServiceSelected):
		return RouteService
	case pending(c, KeySlotOptions, KeySlotSelected):
		return RouteSlot
	case c.GetBool(KeyPendingConfirm):
		return RouteConfirmation
	default:
		return RouteFresh
	}
}

// CurrentPhase maps the conversation onto the abstract state machine.
func CurrentPhase(c *state.Conversation) Phase {
	switch c.CurrentStep {
	case StepBookingComplete:
		return PhaseTerminalSuccess
	case StepBookingCancelled:
		return PhaseTerminalCancelled
	}
	switch Resume(c) {
	case RouteVehicle:
		return PhaseAwaitingVehicle
	case RouteService:
		return PhaseAwaitingService
	case RouteSlot:
		return PhaseAwaitingSlot
	case RouteConfirmation:
		return PhaseAwaitingConfirmation
	}
	return PhaseFreshStart
}

// IsTerminal reports whether the conversation's booking has ended.
func IsTerminal(c *state.Conversation) bool {
	switch CurrentPhase(c) {
	case PhaseTerminalSuccess, PhaseTerminalCancelled:
		return true
	}
	return false
}

// pending reports options presented but no choice made yet.
func pending(c *state.Conversation, optionsKey, selectedKey string) bool {
	options, _ := c.GetList(optionsKey)
	return len(options) > 0 && !c.GetBool(selectedKey)
}

// Group entry routes.
const (
	routeDone    = "done"
	routeFetch   = "fetch"
	routeResume  = "resume"
	routeLookup  = "lookup"
	routeName    = "name"
	routePhone   = "phone"
	routeVehicle = "vehicle"
	routeDate    = "date"
	routeCreate  = "register"
)

func resumeRouter(_ flowgraph.Context, c *state.Conversation) string {
	return Resume(c)
}

// profileEntry finds the first missing piece of the customer profile.
func profileEntry(_ flowgraph.Context, c *state.Conversation) string {
	switch {
	case c.Has("customer.id"):
		return routeDone
	case c.CurrentStep == StepStart || c.CurrentStep == "":
		return routeLookup
	case !c.Has("customer.first_name"):
		return routeName
	case !c.Has(KeyContact + ".phone"):
		return routePhone
	case !c.Has("vehicle.brand") && !c.Has("vehicle.plate"):
		return routeVehicle
	case !c.Has("appointment.date"):
		return routeDate
	default:
		return routeCreate
	}
}

// selectionEntry routes a fetch, present, select group.
func selectionEntry(optionsKey, selectedKey string) flowgraph.RouterFunc[*state.Conversation] {
	return func(_ flowgraph.Context, c *state.Conversation) string {
		switch {
		case c.GetBool(selectedKey):
			return routeDone
		case pending(c, optionsKey, selectedKey):
			return routeResume
		default:
			return routeFetch
		}
	}
}

// bookingEntry routes the confirmation group.
func bookingEntry(_ flowgraph.Context, c *state.Conversation) string {
	switch {
	case c.Has(KeyBookingID) || IsTerminal(c):
		return routeDone
	case c.GetBool(KeyPendingConfirm):
		return routeResume
	default:
		return routeFetch
	}
}
