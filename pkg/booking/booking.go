// Package booking wires the vehicle-service booking conversation.
//
// The workflow is a chain of independently compiled groups (profile,
// vehicle, service, slot, booking). Every inbound message re-enters the top
// graph at its entry node; the resume router picks the group to continue in
// and each group's own entry router picks the node. A group pauses the cycle
// whenever it needs the user's next message.
package booking

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/wapiflow/pkg/backend"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/observability"
	"github.com/randalmurphal/wapiflow/pkg/telemetry"
)

// Workflow steps stored in current_step.
const (
	StepStart             = "start"
	StepExtractName       = "extract_name"
	StepExtractPhone      = "extract_phone"
	StepExtractVehicle    = "extract_vehicle"
	StepExtractDate       = "extract_date"
	StepRegisterCustomer  = "register_customer"
	StepCustomerFound     = "customer_found"
	StepNoVehicles        = "no_vehicles"
	StepAwaitVehicle      = "awaiting_vehicle_selection"
	StepAwaitService      = "awaiting_service_selection"
	StepNoServices        = "no_services"
	StepNoSlots           = "no_slots"
	StepAwaitSlot         = "awaiting_slot_selection"
	StepAwaitConfirmation = "awaiting_confirmation"
	StepBookingComplete   = "booking_complete"
	StepBookingCancelled  = "booking_cancelled"
)

// State keys beyond the domain records.
const (
	KeyContact          = "contact"
	KeyVehicleOptions   = "vehicle_options"
	KeyVehicleSelected  = "vehicle_selected"
	KeyFilteredServices = "filtered_services"
	KeyServiceSelected  = "service_selected"
	KeySlotOptions      = "slot_options"
	KeySlot             = "slot"
	KeySlotSelected     = "slot_selected"
	KeyPrice            = "price"
	KeyPendingConfirm   = "confirmation_pending"
	KeyConfirmation     = "confirmation"
	KeyBookingID        = "booking_id"
)

// Milestone names.
const (
	MilestoneCustomerConfirmed  = "customer_confirmed"
	MilestoneCustomerRegistered = "customer_registered"
	MilestoneVehicleSelected    = "vehicle_selected"
	MilestoneServiceSelected    = "service_selected"
	MilestoneSlotSelected       = "slot_selected"
	MilestoneSummaryShown       = "booking_summary_shown"
	MilestoneBookingCreated     = "booking_created"
	MilestoneBookingCancelled   = "booking_cancelled"
)

// Default tier timeouts.
const (
	DefaultPrimaryTimeout = 5 * time.Second
	DefaultPatternTimeout = time.Second
)

// Deps are the collaborators the workflow is built from.
type Deps struct {
	Backend backend.Backend

	// LLM drives the primary extraction tier. Nil leaves only the
	// pattern and rule tiers.
	LLM llm.Client

	Recorder *telemetry.Recorder
	Logger   *slog.Logger
	Metrics  observability.MetricsRecorder

	// Now is the clock used for relative dates. Defaults to time.Now.
	Now func() time.Time

	PrimaryTimeout time.Duration
	PatternTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Recorder == nil {
		d.Recorder = telemetry.NewRecorder()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = observability.NoopMetrics{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.PrimaryTimeout <= 0 {
		d.PrimaryTimeout = DefaultPrimaryTimeout
	}
	if d.PatternTimeout <= 0 {
		d.PatternTimeout = DefaultPatternTimeout
	}
	return d
}
