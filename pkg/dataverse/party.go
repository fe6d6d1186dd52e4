package dataverse

import "fmt"

// ParticipationType is the role of a party on an activity.
type ParticipationType int

const (
	ParticipationSender          ParticipationType = 1
	ParticipationToRecipient     ParticipationType = 2
	ParticipationCCRecipient     ParticipationType = 3
	ParticipationBCCRecipient    ParticipationType = 4
	ParticipationRequired        ParticipationType = 5
	ParticipationOptional        ParticipationType = 6
	ParticipationOrganizer       ParticipationType = 7
	ParticipationRegarding       ParticipationType = 8
	ParticipationOwner           ParticipationType = 9
	ParticipationResource        ParticipationType = 10
	ParticipationCustomer        ParticipationType = 11
	ParticipationChatParticipant ParticipationType = 12
)

// Validate checks that the role is a known participation type.
func (p ParticipationType) Validate() error {
	if p < ParticipationSender || p > ParticipationChatParticipant {
		return fmt.Errorf("invalid participation type: %d", int(p))
	}
	return nil
}

// String implements fmt.Stringer.
func (p ParticipationType) String() string {
	switch p {
	case ParticipationSender:
		return "sender"
	case ParticipationToRecipient:
		return "to"
	case ParticipationCCRecipient:
		return "cc"
	case ParticipationBCCRecipient:
		return "bcc"
	case ParticipationRequired:
		return "required"
	case ParticipationOptional:
		return "optional"
	case ParticipationOrganizer:
		return "organizer"
	case ParticipationRegarding:
		return "regarding"
	case ParticipationOwner:
		return "owner"
	case ParticipationResource:
		return "resource"
	case ParticipationCustomer:
		return "customer"
	case ParticipationChatParticipant:
		return "chat"
	default:
		return fmt.Sprintf("participation(%d)", int(p))
	}
}

// ActivityParty is one entry of a party list attribute.
type ActivityParty struct {
	Party EntityReference   `json:"party"`
	Role  ParticipationType `json:"role"`

	// AddressUsed is the email address used for unresolved parties.
	AddressUsed string `json:"addressUsed,omitempty"`
}

// PartyList is an ordered list of activity parties. A nil PartyList means
// the attribute is absent; an empty non-nil PartyList is a valid, empty value.
type PartyList []ActivityParty

// OptionSetValue is a known member of a closed integer enumeration.
type OptionSetValue struct {
	Value int    `json:"value"`
	Label string `json:"label,omitempty"`
}

// String implements fmt.Stringer.
func (o OptionSetValue) String() string {
	if o.Label == "" {
		return fmt.Sprintf("%d", o.Value)
	}
	return fmt.Sprintf("%s(%d)", o.Label, o.Value)
}
