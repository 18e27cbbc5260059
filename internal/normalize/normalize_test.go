package normalize

import (
	"errors"
	"testing"
	"time"

	"dresswatch/internal/model"
)

var labels = map[string]int{"Cap": 8, "Sleeveless": 7, "Shorts": 9}

func TestExemptionParsesAllowedDoc(t *testing.T) {
	doc := model.ExemptionDoc{ID: "m1", Status: "Allowed", DressCode: "Cap", StartDate: "03-01-2025", EndDate: "03-05-2025"}
	entry, err := Exemption(doc, labels, time.UTC)
	if err != nil {
		t.Fatalf("exemption error: %v", err)
	}
	if entry.ClassID != 8 || entry.Label != "Cap" {
		t.Fatalf("entry class/label: %d %s", entry.ClassID, entry.Label)
	}
	if !entry.Start.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start: %s", entry.Start)
	}
	if !entry.Active(time.Date(2025, 3, 5, 23, 59, 0, 0, time.UTC)) {
		t.Fatalf("expected end date to be inclusive")
	}
	if entry.Active(time.Date(2025, 3, 6, 0, 0, 1, 0, time.UTC)) {
		t.Fatalf("expected day after end date to be inactive")
	}
	if entry.Active(time.Date(2025, 2, 28, 23, 59, 0, 0, time.UTC)) {
		t.Fatalf("expected day before start date to be inactive")
	}
}

func TestExemptionRejectsStatus(t *testing.T) {
	doc := model.ExemptionDoc{Status: "Denied", DressCode: "Cap", StartDate: "03-01-2025", EndDate: "03-05-2025"}
	if _, err := Exemption(doc, labels, time.UTC); !errors.Is(err, ErrStatusNotAllowed) {
		t.Fatalf("expected ErrStatusNotAllowed, got %v", err)
	}
}

func TestExemptionRejectsUnknownLabel(t *testing.T) {
	doc := model.ExemptionDoc{Status: "allowed", DressCode: "Hat", StartDate: "03-01-2025", EndDate: "03-05-2025"}
	if _, err := Exemption(doc, labels, time.UTC); !errors.Is(err, ErrUnknownDressCode) {
		t.Fatalf("expected ErrUnknownDressCode, got %v", err)
	}
}

func TestExemptionRejectsBadDates(t *testing.T) {
	cases := []model.ExemptionDoc{
		{Status: "Allowed", DressCode: "Cap", StartDate: "2025-03-01", EndDate: "03-05-2025"},
		{Status: "Allowed", DressCode: "Cap", StartDate: "03-01-2025", EndDate: ""},
		{Status: "Allowed", DressCode: "Cap", StartDate: "03-09-2025", EndDate: "03-05-2025"},
	}
	for i, doc := range cases {
		if _, err := Exemption(doc, labels, time.UTC); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestLookupDressCodeIgnoresCase(t *testing.T) {
	label, class, ok := LookupDressCode(" sleeveless ", labels)
	if !ok || class != 7 || label != "Sleeveless" {
		t.Fatalf("lookup: %q %d %v", label, class, ok)
	}
}

func TestDocumentCanonicalizes(t *testing.T) {
	doc, err := Document("m2", "shorts", "3/1/2025", "03/02/2025", labels, time.UTC)
	if err != nil {
		t.Fatalf("document error: %v", err)
	}
	if doc.DressCode != "Shorts" || doc.StartDate != "03-01-2025" || doc.EndDate != "03-02-2025" || doc.Status != StatusAllowed {
		t.Fatalf("document: %+v", doc)
	}
	if _, err := Document("", "Cap", "03-01-2025", "03-02-2025", labels, time.UTC); !errors.Is(err, ErrMissingScheduleID) {
		t.Fatalf("expected ErrMissingScheduleID, got %v", err)
	}
}
