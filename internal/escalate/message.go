package escalate

import (
	"fmt"
	"strings"

	"github.com/callrelay/callrelay/internal/session"
)

// Message is the formatted notification handed to a channel sender. Body is
// UTF-8 and emoji-safe; Subject is only used by the email channel.
type Message struct {
	CallID  string
	Tier    string
	Subject string
	Body    string
}

// tierBadge prefixes per template key.
var tierBadge = map[string]string{
	TemplateEmergency: "🚨",
	TemplatePriority:  "⚠️",
	TemplateStandard:  "📞",
}

// FormatMessage interpolates the session's extracted fields into the
// template for the plan: client name, phone, address, problem description,
// and priority tier.
func FormatMessage(plan Plan, s *session.Session) Message {
	tier := plan.Tier.String()

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", tierBadge[plan.TemplateKey], tier)
	switch plan.TemplateKey {
	case TemplateEmergency:
		b.WriteString(" EMERGENCY: immediate dispatch needed")
	case TemplatePriority:
		b.WriteString(" priority call")
	default:
		b.WriteString(" new lead")
	}
	b.WriteString("\n")

	if name := s.Field("name"); name != "" {
		fmt.Fprintf(&b, "Client: %s\n", name)
	}
	if s.PhoneNumber != "" {
		fmt.Fprintf(&b, "Phone: %s\n", s.PhoneNumber)
	}
	if addr := s.Field("address"); addr != "" {
		fmt.Fprintf(&b, "Address: %s\n", addr)
	}
	if problem := s.Field("problem"); problem != "" {
		fmt.Fprintf(&b, "Problem: %s\n", problem)
	}
	fmt.Fprintf(&b, "Call ID: %s", s.CallID)

	return Message{
		CallID:  s.CallID,
		Tier:    tier,
		Subject: fmt.Sprintf("[%s] Call escalation %s", tier, s.PhoneNumber),
		Body:    b.String(),
	}
}
