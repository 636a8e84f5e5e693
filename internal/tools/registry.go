package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/pepeccz/atrevete-orchestrator/internal/calendarclient"
	"github.com/pepeccz/atrevete-orchestrator/internal/catalog"
	"github.com/pepeccz/atrevete-orchestrator/internal/events"
	"github.com/pepeccz/atrevete-orchestrator/internal/notify"
	"github.com/pepeccz/atrevete-orchestrator/internal/observability/metrics"
	"github.com/pepeccz/atrevete-orchestrator/internal/state"
	"github.com/pepeccz/atrevete-orchestrator/pkg/logging"
)

// ServiceSource is the subset of db.ServiceRepo the search_services tool
// and duration computation need.
type ServiceSource interface {
	ActiveServices(ctx context.Context) ([]state.Service, error)
	Get(ctx context.Context, id string) (state.Service, bool, error)
}

// StylistSource is the subset of db.StylistRepo the list_stylists and
// availability tools need.
type StylistSource interface {
	ActiveByCategory(ctx context.Context, category state.ServiceCategory) ([]state.Stylist, error)
	Get(ctx context.Context, id string) (state.Stylist, bool, error)
}

// HoursSource is the subset of db.HoursRepo the availability tools need.
type HoursSource interface {
	BusinessHoursFor(ctx context.Context, day time.Weekday) (state.BusinessHours, bool, error)
	IsHoliday(ctx context.Context, day time.Time) (bool, error)
}

// PolicySource is the subset of db.PolicyRepo the query_info tool and the
// book tool's salon_address template var need.
type PolicySource interface {
	Get(ctx context.Context, key string) (string, bool, error)
	FAQs(ctx context.Context) ([]state.Policy, error)
	SalonAddress(ctx context.Context) (string, error)
}

// CustomerSource is the subset of db.CustomerRepo the book and
// manage_customer tools need.
type CustomerSource interface {
	FindByPhone(ctx context.Context, phone string) (state.Customer, bool, error)
	GetOrCreate(ctx context.Context, phone string) (state.Customer, error)
	UpdateName(ctx context.Context, customerID, firstName, lastName string) error
}

// AppointmentSink is the subset of db.AppointmentRepo the book tool needs.
type AppointmentSink interface {
	Create(ctx context.Context, a state.Appointment) (state.Appointment, error)
}

// CalendarSource is the narrow calendar capability the availability and
// book tools consume.
type CalendarSource interface {
	ListBusy(ctx context.Context, calendarID string, from, to time.Time) ([]calendarclient.BusyInterval, error)
	CreateEvent(ctx context.Context, in calendarclient.EventInput) (string, error)
}

// ConversationAttrSetter toggles the messaging gateway's bot-handling
// flag, used by escalate_to_human.
type ConversationAttrSetter interface {
	UpdateConversationAttributes(ctx context.Context, conversationID string, attributes map[string]any) error
}

// Config bundles the Registry's dependencies. Every field is required in
// production; tests supply narrower fakes satisfying only the interfaces
// a given tool exercises.
type Config struct {
	Resolver     *catalog.Resolver
	Services     ServiceSource
	Stylists     StylistSource
	Hours        HoursSource
	Policies     PolicySource
	Customers    CustomerSource
	Appointments AppointmentSink
	Calendar     CalendarSource
	Messaging    ConversationAttrSetter
	Notifier     *notify.Service
	Events       *events.Recorder // optional: audits appointment creation
	Metrics      *metrics.BookingMetrics
	Logger       *logging.Logger
	Location     *time.Location
	SiteName     string
	SiteURL      string
}

// Registry is the tool registry and executor: every tool call the
// booking pipeline can make lives behind Call, so both the FSM's
// prescriptive sequence and the non-booking handler's LLM-chosen tools
// share one execution path, one logging convention, and one metrics
// surface.
type Registry struct {
	cfg Config
}

// New builds a Registry. A nil Location defaults to UTC.
func New(cfg Config) *Registry {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Registry{cfg: cfg}
}

// Call dispatches to the named tool. Every call is logged with the tool
// name, the argument keys (never values — entity data never hits the
// logs), and whether it succeeded.
func (r *Registry) Call(ctx context.Context, name Name, args Args) (Result, error) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}

	res, err := r.dispatch(ctx, name, args)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.cfg.Logger.Info("tool call", "tool", string(name), "arg_keys", keys, "outcome", outcome)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ObserveToolCall(string(name), outcome)
	}
	return res, err
}

func (r *Registry) dispatch(ctx context.Context, name Name, args Args) (Result, error) {
	switch name {
	case NameSearchServices:
		return r.searchServices(ctx, args)
	case NameListStylists:
		return r.listStylists(ctx, args)
	case NameQueryInfo:
		return r.queryInfo(ctx, args)
	case NameCheckAvailability:
		return r.checkAvailability(ctx, args)
	case NameFindNextAvailable:
		return r.findNextAvailable(ctx, args)
	case NameBook:
		return r.book(ctx, args)
	case NameManageCustomer:
		return r.manageCustomer(ctx, args)
	case NameEscalateToHuman:
		return r.escalateToHuman(ctx, args)
	default:
		return nil, fmt.Errorf("tools: unknown tool %q", name)
	}
}
