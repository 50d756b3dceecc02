package assistant

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/clinic-assistant/internal/clinic"
)

var (
	isoDatePattern  = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	fullDatePattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4}|\d{2})\b`)
	// the optional third group swallows a malformed year so "10/09/123" is
	// not read as 10/09
	shortDatePattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(/\d+)?\b`)

	clockPattern      = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	hourMarkPattern   = regexp.MustCompile(`\b([01]?\d|2[0-3])h([0-5]\d)?\b`)
	atHourPattern     = regexp.MustCompile(`\bas ([01]?\d|2[0-3])(?:\s|$|[?.!,])`)
	bareHourPattern   = regexp.MustCompile(`^([01]?\d|2[0-3])$`)
	personNamePattern = regexp.MustCompile(`^\p{L}[\p{L}'.-]*(?:\s\p{L}[\p{L}'.-]*)+$`)
	cpfPattern        = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
	emailPattern      = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern      = regexp.MustCompile(`\(?\d{2}\)?\s?\d{4,5}[-\s]?\d{4}`)
	birthDatePattern  = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4})\b`)

	appointmentIDPat = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:consulta|agendamento|id|numero|n)\s*(?:#|no\.?|n\.?)?\s*(\d+)([-/:h]?)`),
		regexp.MustCompile(`#\s*(\d+)([-/:h]?)`),
		regexp.MustCompile(`\b(?:cancelar|desmarcar|cancel)\s+(\d+)([-/:h]?)`),
	}
)

// honorifics are ignored when matching doctor names.
var honorifics = map[string]bool{"dr": true, "dra": true, "doutor": true, "doutora": true, "doctor": true}

// nameStopwords never identify a doctor on their own.
var nameStopwords = map[string]bool{"dos": true, "das": true, "com": true, "para": true, "que": true}

// extractor pulls slot values out of normalized text.
type extractor struct {
	roster []rosterEntry
	now    func() time.Time
	loc    *time.Location
}

type rosterEntry struct {
	ref    DoctorRef
	tokens []string
	full   string
}

func newRoster(doctors []DoctorRef) []rosterEntry {
	out := make([]rosterEntry, 0, len(doctors))
	for _, d := range doctors {
		var tokens []string
		for _, w := range words(normalize(d.Name)) {
			if !honorifics[w] {
				tokens = append(tokens, w)
			}
		}
		if len(tokens) == 0 {
			continue
		}
		out = append(out, rosterEntry{ref: d, tokens: tokens, full: strings.Join(tokens, " ")})
	}
	return out
}

// all extracts every slot present in text.
func (e extractor) all(text string) Slots {
	var s Slots
	if d, ok := e.date(text); ok {
		s.Date = strPtr(d)
	}
	if t, ok := e.time(text); ok {
		s.Time = strPtr(t)
	}
	if d, ok := e.doctor(text); ok {
		s.Doctor = &d
	}
	if id, ok := e.appointmentID(text); ok {
		s.AppointmentID = int64Ptr(id)
	}
	return s
}

// slot parses text as an answer for one specific slot. A bare hour such as
// "14" counts as a time only here, where a time is what was asked for.
func (e extractor) slot(text string, name SlotName) (Slots, bool) {
	var s Slots
	switch name {
	case SlotDoctor:
		d, ok := e.doctor(text)
		if !ok {
			return s, false
		}
		s.Doctor = &d
	case SlotDate:
		d, ok := e.date(text)
		if !ok {
			return s, false
		}
		s.Date = strPtr(d)
	case SlotTime:
		t, ok := e.time(text)
		if !ok {
			m := bareHourPattern.FindStringSubmatch(strings.TrimSpace(text))
			if m == nil {
				return s, false
			}
			t = formatClock(m[1], "")
		}
		s.Time = strPtr(t)
	default:
		return s, false
	}
	return s, true
}

// patient parses raw, un-normalized text as one registration detail. Names
// keep the user's capitalization and accents.
func (e extractor) patient(raw string, name SlotName) (Slots, bool) {
	var value string
	switch name {
	case SlotPatientName:
		collapsed := strings.Join(strings.Fields(raw), " ")
		if !personNamePattern.MatchString(collapsed) {
			return Slots{}, false
		}
		value = collapsed
	case SlotCPF:
		m := cpfPattern.FindString(raw)
		if m == "" {
			return Slots{}, false
		}
		cpf, err := clinic.FormatCPF(m)
		if err != nil {
			return Slots{}, false
		}
		value = cpf
	case SlotEmail:
		m := emailPattern.FindString(raw)
		if m == "" {
			return Slots{}, false
		}
		value = strings.ToLower(m)
	case SlotPhone:
		m := phonePattern.FindString(raw)
		if n := len(clinic.OnlyDigits(m)); n < 10 || n > 11 {
			return Slots{}, false
		}
		value = strings.TrimSpace(m)
	case SlotBirthDate:
		m := birthDatePattern.FindStringSubmatch(raw)
		if m == nil {
			return Slots{}, false
		}
		d, ok := civilDate(atoi(m[3]), atoi(m[2]), atoi(m[1]), e.loc)
		if !ok || d >= e.today().Format("2006-01-02") || d < "1900-01-01" {
			return Slots{}, false
		}
		value = d
	default:
		return Slots{}, false
	}
	details := &PatientDetails{}
	for _, f := range patientFields {
		if f.slot == name {
			*f.get(details) = value
		}
	}
	return Slots{Patient: details}, true
}

func (e extractor) today() time.Time {
	now := time.Now
	if e.now != nil {
		now = e.now
	}
	loc := e.loc
	if loc == nil {
		loc = time.UTC
	}
	t := now().In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func (e extractor) date(text string) (string, bool) {
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		return civilDate(atoi(m[1]), atoi(m[2]), atoi(m[3]), e.loc)
	}
	if m := fullDatePattern.FindStringSubmatch(text); m != nil {
		year := atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
		return civilDate(year, atoi(m[2]), atoi(m[1]), e.loc)
	}
	today := e.today()
	if m := shortDatePattern.FindStringSubmatch(text); m != nil && m[3] == "" {
		day, month := atoi(m[1]), atoi(m[2])
		d, ok := civilDate(today.Year(), month, day, e.loc)
		if !ok {
			return "", false
		}
		if d < today.Format("2006-01-02") {
			return civilDate(today.Year()+1, month, day, e.loc)
		}
		return d, true
	}
	padded := " " + strings.Join(words(text), " ") + " "
	switch {
	case strings.Contains(padded, " depois de amanha "):
		return today.AddDate(0, 0, 2).Format("2006-01-02"), true
	case strings.Contains(padded, " amanha "), strings.Contains(padded, " tomorrow "):
		return today.AddDate(0, 0, 1).Format("2006-01-02"), true
	case strings.Contains(padded, " hoje "), strings.Contains(padded, " today "):
		return today.Format("2006-01-02"), true
	}
	return "", false
}

func (e extractor) time(text string) (string, bool) {
	if m := clockPattern.FindStringSubmatch(text); m != nil {
		return formatClock(m[1], m[2]), true
	}
	if m := hourMarkPattern.FindStringSubmatch(text); m != nil {
		return formatClock(m[1], m[2]), true
	}
	if m := atHourPattern.FindStringSubmatch(text); m != nil {
		return formatClock(m[1], ""), true
	}
	return "", false
}

func (e extractor) appointmentID(text string) (int64, bool) {
	for _, re := range appointmentIDPat {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if m[2] != "" {
				// part of a date or a time, not an id
				continue
			}
			id, err := strconv.ParseInt(m[1], 10, 64)
			if err == nil && id > 0 {
				return id, true
			}
		}
	}
	return 0, false
}

// doctor matches the roster: the longest full name contained in text wins;
// otherwise a single name token that belongs to exactly one doctor.
func (e extractor) doctor(text string) (DoctorRef, bool) {
	tokens := words(text)
	padded := " " + strings.Join(tokens, " ") + " "

	best := -1
	for i, entry := range e.roster {
		if len(entry.tokens) < 2 {
			continue
		}
		if strings.Contains(padded, " "+entry.full+" ") {
			if best < 0 || len(entry.full) > len(e.roster[best].full) {
				best = i
			}
		}
	}
	if best >= 0 {
		return e.roster[best].ref, true
	}

	var found *DoctorRef
	for _, tok := range tokens {
		if len(tok) < 3 || honorifics[tok] || nameStopwords[tok] {
			continue
		}
		var owner *DoctorRef
		owners := 0
		for i := range e.roster {
			for _, nt := range e.roster[i].tokens {
				if nt == tok {
					owners++
					owner = &e.roster[i].ref
					break
				}
			}
		}
		if owners != 1 {
			continue
		}
		if found != nil && found.ID != owner.ID {
			return DoctorRef{}, false
		}
		found = owner
	}
	if found == nil {
		return DoctorRef{}, false
	}
	return *found, true
}

func civilDate(year, month, day int, loc *time.Location) (string, bool) {
	if loc == nil {
		loc = time.UTC
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

func formatClock(hour, minute string) string {
	h := atoi(hour)
	m := 0
	if minute != "" {
		m = atoi(minute)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
