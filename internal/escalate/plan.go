// Package escalate maps priority tiers to notification plans and delivers
// them: static tier routing, per-tier retry policy, and fan-out across
// SMS, mobile push, and email channels.
package escalate

import (
	"strings"

	"github.com/callrelay/callrelay/internal/classify"
)

// Recipient roles.
const (
	RoleLead    = "lead"
	RoleManager = "manager"
	RoleOnCall  = "oncall"
	RoleOffice  = "office"
)

// Notification channels.
const (
	ChannelSMS   = "sms"
	ChannelPush  = "push"
	ChannelEmail = "email"
)

// Recipient is one delivery target in an escalation plan.
type Recipient struct {
	Role    string
	Channel string
	// Target is the channel-specific address: an E.164 phone number for
	// SMS, a device token for push, an email address for email.
	Target string
}

// Plan is the derived escalation for one tier: an ordered recipient list
// and the message template to use. Plans are computed, never stored.
type Plan struct {
	Tier        classify.Tier
	TemplateKey string
	Recipients  []Recipient
}

// Empty reports whether the plan has no recipients.
func (p Plan) Empty() bool {
	return len(p.Recipients) == 0
}

// RecipientSummary renders the plan's recipients for the alert record,
// one "role:channel:target" entry per recipient.
func (p Plan) RecipientSummary() string {
	parts := make([]string, len(p.Recipients))
	for i, r := range p.Recipients {
		parts[i] = r.Role + ":" + r.Channel + ":" + r.Target
	}
	return strings.Join(parts, ",")
}
