package domain

// Intents produced by the classifier, plus the internal intents used to resume
// a class selection or a confirmed reservation after verification.
const (
	IntentFAQ             = "faq"
	IntentBooking         = "booking"
	IntentBalance         = "balance"
	IntentContract        = "contract"
	IntentTicket          = "ticket"
	IntentMarketingOptOut = "marketing_optout"
	IntentMarketingOptIn  = "marketing_optin"
	IntentClarify         = "clarify"
	IntentSelectClass     = "select_class"
	IntentReserve         = "reserve"
)

// Slot names carried by classifications and post-intents.
const (
	SlotClassType = "class_type"
	SlotDate      = "date"
	SlotFAQKey    = "faq_key"
	SlotLanguage  = "language"
	SlotClassID   = "class_id"
	SlotClassName = "class_name"
	SlotStartsAt  = "starts_at"
	SlotMemberID  = "member_id"
	SlotIdemKey   = "idempotency_key"
	SlotConfirmed = "confirmed"
)

// Classification is the classifier collaborator's answer.
type Classification struct {
	Intent     string
	Confidence float64
	Slots      map[string]string
}

// Slot returns the named slot or "".
func (c Classification) Slot(name string) string {
	if c.Slots == nil {
		return ""
	}
	return c.Slots[name]
}
