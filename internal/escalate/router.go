package escalate

import (
	"log/slog"

	"github.com/callrelay/callrelay/internal/classify"
	"github.com/callrelay/callrelay/internal/session"
)

// Directory holds the configured recipients per role. It is plain
// configuration; the routing table below never computes recipients.
type Directory struct {
	LeadPhone    string
	ManagerPhone string
	// OnCallPhones is the full on-call rotation, all notified for P1.
	OnCallPhones []string
	// OnCallPushTokens are device tokens for the on-call mobile app,
	// added to P1 plans when push is configured.
	OnCallPushTokens []string
	// OfficeEmail, when set, receives an email summary of every
	// escalation.
	OfficeEmail string
}

// Template keys per tier.
const (
	TemplateEmergency = "emergency"
	TemplatePriority  = "priority"
	TemplateStandard  = "standard"
)

// Router decides whether a state transition escalates and, if so, to whom.
// The core rule: an escalation fires exactly once per session per achieved
// tier, on upgrade only. The unclassified/P4 baseline is not an upgrade, so
// P4 plans fire only through EndOfCall.
type Router struct {
	dir    Directory
	logger *slog.Logger
}

// NewRouter creates a Router over the configured recipient directory.
func NewRouter(dir Directory, logger *slog.Logger) *Router {
	return &Router{
		dir:    dir,
		logger: logger.With("component", "router"),
	}
}

// PlanFor returns the static routing-table row for a tier:
// P1 → lead + manager + all on-call, P2 → lead + manager, P3/P4 → lead.
// The office email, when configured, is appended to every plan.
func (r *Router) PlanFor(tier classify.Tier) Plan {
	var p Plan
	p.Tier = tier

	switch tier {
	case classify.TierP1:
		p.TemplateKey = TemplateEmergency
		p.add(RoleLead, ChannelSMS, r.dir.LeadPhone)
		p.add(RoleManager, ChannelSMS, r.dir.ManagerPhone)
		for _, phone := range r.dir.OnCallPhones {
			p.add(RoleOnCall, ChannelSMS, phone)
		}
		for _, token := range r.dir.OnCallPushTokens {
			p.add(RoleOnCall, ChannelPush, token)
		}
	case classify.TierP2:
		p.TemplateKey = TemplatePriority
		p.add(RoleLead, ChannelSMS, r.dir.LeadPhone)
		p.add(RoleManager, ChannelSMS, r.dir.ManagerPhone)
	case classify.TierP3, classify.TierP4:
		p.TemplateKey = TemplateStandard
		p.add(RoleLead, ChannelSMS, r.dir.LeadPhone)
	default:
		return p
	}

	p.add(RoleOffice, ChannelEmail, r.dir.OfficeEmail)
	return p
}

// Decide returns the plan for a classification result and whether it should
// fire now. It fires when the achieved tier is above the P4 baseline and
// strictly more severe than anything already escalated for the session;
// an earlier, less severe plan that never fired is superseded, and an
// already-sent plan is never resent.
func (r *Router) Decide(s *session.Session, tier classify.Tier) (Plan, bool) {
	if !tier.Valid() || tier == classify.TierP4 {
		return Plan{}, false
	}
	if !tier.MoreSevere(s.LastEscalated) {
		r.logger.Debug("escalation already fired at or above tier",
			"call_id", s.CallID,
			"tier", tier.String(),
			"last_escalated", s.LastEscalated.String(),
		)
		return Plan{}, false
	}
	return r.PlanFor(tier), true
}

// EndOfCall returns the standard-lead plan for sessions that ended without
// any escalation, so every call still surfaces to the team as a lead.
func (r *Router) EndOfCall(s *session.Session) (Plan, bool) {
	if s.LastEscalated != classify.TierNone {
		return Plan{}, false
	}
	tier := s.Tier
	if !tier.Valid() {
		tier = classify.TierP4
	}
	return r.PlanFor(tier), true
}

// add appends a recipient, skipping unconfigured targets.
func (p *Plan) add(role, channel, target string) {
	if target == "" {
		return
	}
	p.Recipients = append(p.Recipients, Recipient{Role: role, Channel: channel, Target: target})
}
