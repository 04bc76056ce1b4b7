package extract

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Greetings and fillers that are never names.
var nameStopwords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "haan": true, "yes": true,
	"ok": true, "okay": true, "sure": true, "yep": true, "yeah": true,
	"nope": true, "no": true, "thanks": true, "shukriya": true, "namaste": true,
	"fine": true, "good": true, "well": true, "great": true,
}

var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:my name is|i am|i'?m|this is|call me)\s+([a-z]+(?:\s+[a-z]+)?)`),
	regexp.MustCompile(`(?i)^([a-z]+(?:\s+[a-z]+)?)$`),
}

// ParseName finds "first [last]" in a message.
// Returns nil for greetings or when nothing looks like a name.
func ParseName(message string) map[string]any {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	for _, re := range namePatterns {
		m := re.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		parts := strings.Fields(m[1])
		if slices.ContainsFunc(parts, isNameStopword) {
			continue
		}
		fields := map[string]any{"first_name": titleCase(parts[0]), "last_name": ""}
		if len(parts) > 1 {
			fields["last_name"] = titleCase(strings.Join(parts[1:], " "))
		}
		return fields
	}
	return nil
}

func isNameStopword(word string) bool {
	return nameStopwords[strings.ToLower(word)]
}

var phonePattern = regexp.MustCompile(`(?:\+?91|0)?([6-9]\d{9})`)

// ParsePhone finds an Indian mobile number, normalized to 10 digits.
func ParsePhone(message string) map[string]any {
	compact := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(message)
	m := phonePattern.FindStringSubmatch(compact)
	if m == nil {
		return nil
	}
	return map[string]any{"phone": m[1]}
}

// NormalizePhone strips a country prefix from a conversation ID.
func NormalizePhone(id string) string {
	if fields := ParsePhone(id); fields != nil {
		return fields["phone"].(string)
	}
	return id
}

var vehicleBrands = map[string]string{
	"maruti": "Maruti", "suzuki": "Suzuki", "hyundai": "Hyundai", "tata": "Tata",
	"mahindra": "Mahindra", "honda": "Honda", "toyota": "Toyota", "kia": "Kia",
	"renault": "Renault", "nissan": "Nissan", "volkswagen": "Volkswagen",
	"skoda": "Skoda", "mg": "MG", "ford": "Ford", "bmw": "BMW",
	"mercedes": "Mercedes", "audi": "Audi", "jeep": "Jeep",
}

var platePattern = regexp.MustCompile(`(?i)\b([a-z]{2})[\s-]?(\d{1,2})[\s-]?([a-z]{1,3})[\s-]?(\d{4})\b`)

// ParseVehicle finds a brand (with the model named after it) and/or a
// registration plate.
func ParseVehicle(message string) map[string]any {
	fields := map[string]any{}

	words := strings.Fields(strings.ToLower(message))
	for i, w := range words {
		brand, ok := vehicleBrands[strings.Trim(w, ",.!?")]
		if !ok {
			continue
		}
		fields["brand"] = brand
		if i+1 < len(words) {
			model := strings.Trim(words[i+1], ",.!?")
			if model != "" && model != "car" && !platePattern.MatchString(model) {
				fields["model"] = titleCase(model)
			}
		}
		break
	}

	if m := platePattern.FindStringSubmatch(message); m != nil {
		fields["plate"] = strings.ToUpper(m[1] + m[2] + m[3] + m[4])
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

const dateLayout = "2006-01-02"

var (
	isoDate    = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dayMonth   = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})(?:[/-](\d{4}))?\b`)
	dayAfter   = regexp.MustCompile(`(?i)\bday after tomorrow\b`)
	tomorrowRe = regexp.MustCompile(`(?i)\btomorrow\b`)
	todayRe    = regexp.MustCompile(`(?i)\btoday\b`)
)

// DateParser resolves relative and explicit dates against a clock.
type DateParser struct {
	Now func() time.Time
}

// Parse returns {"date": "YYYY-MM-DD"} or nil.
func (p DateParser) Parse(message string) map[string]any {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	today := now()

	var d time.Time
	switch {
	case dayAfter.MatchString(message):
		d = today.AddDate(0, 0, 2)
	case tomorrowRe.MatchString(message):
		d = today.AddDate(0, 0, 1)
	case todayRe.MatchString(message):
		d = today
	default:
		var ok bool
		if d, ok = explicitDate(message, today); !ok {
			return nil
		}
	}
	return map[string]any{"date": d.Format(dateLayout)}
}

func explicitDate(message string, today time.Time) (time.Time, bool) {
	if m := isoDate.FindString(message); m != "" {
		d, err := time.ParseInLocation(dateLayout, m, today.Location())
		return d, err == nil
	}
	m := dayMonth.FindStringSubmatch(message)
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year := today.Year()
	if m[3] != "" {
		year, _ = strconv.Atoi(m[3])
	}
	s := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	d, err := time.ParseInLocation(dateLayout, s, today.Location())
	return d, err == nil
}

var (
	selectionNumber = regexp.MustCompile(`(?i)^\s*(?:option|number|no\.?|#)?\s*(\d{1,2})\s*\.?\s*$`)
	embeddedNumber  = regexp.MustCompile(`(?i)\b(?:option|number|no\.?|#)\s*(\d{1,2})\b`)
	ordinals        = map[string]int{
		"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
		"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
		"1st": 1, "2nd": 2, "3rd": 3, "4th": 4, "5th": 5,
	}
)

// ParseSelection finds a 1-based choice: "2", "option 2", "the second one".
func ParseSelection(message string) map[string]any {
	if m := selectionNumber.FindStringSubmatch(message); m != nil {
		return selection(m[1])
	}
	if m := embeddedNumber.FindStringSubmatch(message); m != nil {
		return selection(m[1])
	}
	for _, w := range strings.Fields(strings.ToLower(message)) {
		if n, ok := ordinals[strings.Trim(w, ",.!?")]; ok {
			return map[string]any{"index": n}
		}
	}
	return nil
}

func selection(digits string) map[string]any {
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return nil
	}
	return map[string]any{"index": n}
}

var (
	affirmative = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true, "ok": true, "okay": true,
		"confirm": true, "confirmed": true, "sure": true, "haan": true, "ha": true,
		"correct": true, "book": true, "proceed": true,
	}
	negative = map[string]bool{
		"no": true, "n": true, "nope": true, "cancel": true, "nahi": true,
		"stop": true, "don't": true, "dont": true,
	}
)

// ParseConfirmation reads a yes/no answer. Mixed or unclear replies yield nil.
func ParseConfirmation(message string) map[string]any {
	yes, no := false, false
	for _, w := range strings.Fields(strings.ToLower(message)) {
		w = strings.Trim(w, ",.!?")
		yes = yes || affirmative[w]
		no = no || negative[w]
	}
	if yes == no {
		return nil
	}
	return map[string]any{"confirmed": yes}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// Pattern tiers for the booking fields.
func NameTier() Tier {
	return Tier{Name: "name_pattern", Method: MethodPattern, Timeout: time.Second, Extractor: Fields(ParseName)}
}

func PhoneTier() Tier {
	return Tier{Name: "phone_pattern", Method: MethodPattern, Timeout: time.Second, Extractor: Fields(ParsePhone)}
}

func VehicleTier() Tier {
	return Tier{Name: "vehicle_pattern", Method: MethodPattern, Timeout: time.Second, Extractor: Fields(ParseVehicle)}
}

func DateTier(now func() time.Time) Tier {
	return Tier{Name: "date_rules", Method: MethodRuleBased, Timeout: time.Second, Extractor: Fields(DateParser{Now: now}.Parse)}
}

func SelectionTier() Tier {
	return Tier{Name: "selection_rules", Method: MethodRuleBased, Timeout: time.Second, Extractor: Fields(ParseSelection)}
}

func ConfirmationTier() Tier {
	return Tier{Name: "confirmation_rules", Method: MethodRuleBased, Timeout: time.Second, Extractor: Fields(ParseConfirmation)}
}
