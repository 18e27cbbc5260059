package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dresswatch/internal/model"
)

var (
	ErrStatusNotAllowed  = errors.New("schedule status is not allowed")
	ErrUnknownDressCode  = errors.New("unknown dress code")
	ErrInvalidDateRange  = errors.New("end date before start date")
	ErrMissingScheduleID = errors.New("schedule id missing")
)

// DateLayout is the schedule store's date format (MM-DD-YYYY).
const DateLayout = "01-02-2006"

const StatusAllowed = "Allowed"

// Exemption turns a raw schedule document into an entry. loc is the zone whose
// calendar days the dates refer to.
func Exemption(doc model.ExemptionDoc, labels map[string]int, loc *time.Location) (model.ExemptionEntry, error) {
	if !IsAllowedStatus(doc.Status) {
		return model.ExemptionEntry{}, fmt.Errorf("%w: %q", ErrStatusNotAllowed, doc.Status)
	}
	label, class, ok := LookupDressCode(doc.DressCode, labels)
	if !ok {
		return model.ExemptionEntry{}, fmt.Errorf("%w: %q", ErrUnknownDressCode, doc.DressCode)
	}
	if loc == nil {
		loc = time.Local
	}
	start, err := ParseDate(doc.StartDate, loc)
	if err != nil {
		return model.ExemptionEntry{}, fmt.Errorf("parse start_date: %w", err)
	}
	end, err := ParseDate(doc.EndDate, loc)
	if err != nil {
		return model.ExemptionEntry{}, fmt.Errorf("parse end_date: %w", err)
	}
	if end.Before(start) {
		return model.ExemptionEntry{}, ErrInvalidDateRange
	}
	return model.ExemptionEntry{
		ClassID: model.ClassID(class),
		Label:   label,
		Start:   start,
		End:     end,
	}, nil
}

func IsAllowedStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "allowed", "allow", "approved":
		return true
	}
	return false
}

// LookupDressCode matches a label case-insensitively and returns the canonical label.
func LookupDressCode(value string, labels map[string]int) (string, int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", 0, false
	}
	if class, ok := labels[value]; ok {
		return value, class, true
	}
	for label, class := range labels {
		if strings.EqualFold(label, value) {
			return label, class, true
		}
	}
	return "", 0, false
}

// ParseDate parses MM-DD-YYYY, tolerating slashes, into midnight of that day in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	value = strings.ReplaceAll(value, "/", "-")
	t, err := time.ParseInLocation("1-2-2006", value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported date format: %q", value)
	}
	return t, nil
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Document builds a schedule document from CLI style input, validating it the same way a refresh would.
func Document(id, dressCode, start, end string, labels map[string]int, loc *time.Location) (model.ExemptionDoc, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.ExemptionDoc{}, ErrMissingScheduleID
	}
	doc := model.ExemptionDoc{
		ID:        id,
		Status:    StatusAllowed,
		DressCode: strings.TrimSpace(dressCode),
		StartDate: strings.TrimSpace(start),
		EndDate:   strings.TrimSpace(end),
	}
	entry, err := Exemption(doc, labels, loc)
	if err != nil {
		return model.ExemptionDoc{}, err
	}
	doc.DressCode = entry.Label
	doc.StartDate = FormatDate(entry.Start)
	doc.EndDate = FormatDate(entry.End)
	return doc, nil
}
