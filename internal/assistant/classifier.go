package assistant

import (
	"regexp"
	"time"
)

// intentRule maps a predicate over normalized text to an intent.
type intentRule struct {
	intent Intent
	match  func(normalized string) bool
}

func anyPattern(patterns ...string) func(string) bool {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return func(text string) bool {
		for _, re := range compiled {
			if re.MatchString(text) {
				return true
			}
		}
		return false
	}
}

// intentRules is evaluated top to bottom and the first match wins, so a
// message mentioning both cancelling and booking is a cancellation.
var intentRules = []intentRule{
	{intent: IntentGreeting, match: isGreeting},
	{intent: IntentCancelAppointment, match: anyPattern(
		`\b(cancelar|cancela|cancelamento|desmarcar|desmarca)\b`,
		`\bremover\b.*\b(consulta|agendamento)\b`,
		`\b(cancel|remove)\b.*\bappointment\b`,
	)},
	{intent: IntentBookAppointment, match: anyPattern(
		`\b(agendar|agendamento|marcar|remarcar|reservar)\b`,
		`\b(quero|queria|preciso|gostaria)\b.*\bconsulta\b`,
		`\b(book|booking)\b`,
	)},
	{intent: IntentQueryAvailability, match: anyPattern(
		`\bhorarios?\b.*\bdisponive(l|is)\b`,
		`\bdisponive(l|is)\b.*\bhorarios?\b`,
		`\b(quais|que)\b.*\bhorarios?\b`,
		`\b(ver|mostrar|listar)\b.*\b(horarios?|agenda)\b`,
		`\btem\b.*\bvagas?\b`,
		`\bvagas?\b`,
		`\b(available|availability|openings?|schedules?)\b`,
	)},
	{intent: IntentQueryPayment, match: anyPattern(
		`\b(pagamento|pagar|valor|valores|preco|precos|custo|custa|quanto e)\b`,
		`\b(convenio|convenios|plano de saude|pix|cartao)\b`,
		`\b(payment|pay|cost|price|pricing)\b`,
	)},
}

// greetingWords are the only words a greeting may consist of. At least one of
// them must be an opener, so "tudo bem?" alone is a greeting but "e voce" is not.
var greetingWords = map[string]bool{
	"oi": true, "ola": true, "opa": true, "hey": true, "hi": true, "hello": true, "salve": true,
	"bom": true, "boa": true, "dia": true, "tarde": true, "noite": true,
	"tudo": true, "bem": true, "como": true, "vai": true, "esta": true, "voce": true, "e": true, "ai": true,
	"tchau": true, "tchauzinho": true, "ate": true, "logo": true, "mais": true,
	"obrigado": true, "obrigada": true, "valeu": true, "brigado": true, "muito": true,
	"td": true, "blz": true, "beleza": true, "pessoal": true,
}

var greetingOpeners = map[string]bool{
	"oi": true, "ola": true, "opa": true, "hey": true, "hi": true, "hello": true, "salve": true,
	"bom": true, "boa": true, "tudo": true, "tchau": true, "tchauzinho": true,
	"obrigado": true, "obrigada": true, "valeu": true, "brigado": true,
}

func isGreeting(normalized string) bool {
	tokens := words(normalized)
	if len(tokens) == 0 {
		return false
	}
	opener := false
	for _, t := range tokens {
		if !greetingWords[t] {
			return false
		}
		if greetingOpeners[t] {
			opener = true
		}
	}
	return opener
}

// Classifier is deterministic for a fixed roster, clock and location.
type Classifier struct {
	ext extractor
}

// NewClassifier builds a classifier over a doctor roster. now resolves
// relative dates such as "amanhã" in loc.
func NewClassifier(roster []DoctorRef, now func() time.Time, loc *time.Location) *Classifier {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Classifier{ext: extractor{roster: newRoster(roster), now: now, loc: loc}}
}

// Classify never fails: text matching no rule is IntentUnknown with empty
// slots. Greetings carry no slots either.
func (c *Classifier) Classify(text string) Classification {
	normalized := normalize(text)
	for _, rule := range intentRules {
		if !rule.match(normalized) {
			continue
		}
		if rule.intent == IntentGreeting {
			return Classification{Intent: IntentGreeting}
		}
		return Classification{Intent: rule.intent, Slots: c.ext.all(normalized)}
	}
	return Classification{Intent: IntentUnknown}
}

// ExtractSlots returns every slot present in text regardless of intent.
func (c *Classifier) ExtractSlots(text string) Slots {
	return c.ext.all(normalize(text))
}

// ExtractSlot parses text as the answer to a prompt for one slot. A message
// that classifies as an intent is never taken as a patient name.
func (c *Classifier) ExtractSlot(text string, name SlotName) (Slots, bool) {
	if isRegistrationSlot(name) {
		if name == SlotPatientName && c.Classify(text).Intent != IntentUnknown {
			return Slots{}, false
		}
		return c.ext.patient(text, name)
	}
	return c.ext.slot(normalize(text), name)
}
