package contacts

import (
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "contacts.db")
	s, err := NewStore(dbPath, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndFindByName(t *testing.T) {
	s := newTestStore(t)

	c, err := s.Upsert("Sarah", "sister")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if c.ID == "" {
		t.Error("expected generated id")
	}

	got, err := s.FindByName("sarah")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if got.ID != c.ID || got.Relationship != "sister" {
		t.Errorf("got %+v, want id=%s relationship=sister", got, c.ID)
	}

	// Same name upserts into the existing row.
	again, err := s.Upsert("SARAH", "")
	if err != nil {
		t.Fatalf("Upsert again: %v", err)
	}
	if again.ID != c.ID {
		t.Errorf("upsert created a duplicate: %s vs %s", again.ID, c.ID)
	}
}

func TestDeleteHidesContact(t *testing.T) {
	s := newTestStore(t)

	c, err := s.Upsert("Sarah", "sister")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete(c.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := s.FindByName("Sarah"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("deleted contact still found, err = %v", err)
	}
	got, err := s.Resolve("Sarah")
	if err != nil || got != nil {
		t.Errorf("Resolve after delete = %v, %v", got, err)
	}

	// Deleting twice is an error; the row is already inactive.
	if err := s.Delete(c.ID); err == nil {
		t.Error("second delete should fail")
	}

	// The name is reusable: a new upsert starts a fresh contact.
	fresh, err := s.Upsert("Sarah", "")
	if err != nil {
		t.Fatalf("Upsert after delete: %v", err)
	}
	if fresh.ID == c.ID {
		t.Error("upsert resurrected the deleted row")
	}
}

func TestFindByNameMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindByName("nobody")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestPhoneFacts(t *testing.T) {
	s := newTestStore(t)

	c, err := s.Upsert("Mike", "")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	for _, num := range []string{"+15551234567", "+15557654321", "+15551234567"} {
		if err := s.SetFact(c.ID, FactPhone, num); err != nil {
			t.Fatalf("SetFact: %v", err)
		}
	}

	got, err := s.FindByName("Mike")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if len(got.Facts[FactPhone]) != 2 {
		t.Fatalf("phone facts = %v, want 2 distinct values", got.Facts[FactPhone])
	}
	if got.Phone() != "+15551234567" {
		t.Errorf("Phone() = %q, want first number", got.Phone())
	}
}

func TestResolve(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"Sarah Chen", "Sarah", "Mike Torres"} {
		if _, err := s.Upsert(name, ""); err != nil {
			t.Fatalf("Upsert %s: %v", name, err)
		}
	}

	// Exact match wins over substring matches.
	c, err := s.Resolve("sarah")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c == nil || c.Name != "Sarah" {
		t.Errorf("Resolve(sarah) = %+v, want exact match Sarah", c)
	}

	// Substring fallback.
	c, err = s.Resolve("Torres")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c == nil || c.Name != "Mike Torres" {
		t.Errorf("Resolve(Torres) = %+v, want Mike Torres", c)
	}

	// Unknown name resolves to nil, not an error.
	c, err = s.Resolve("Zelda")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c != nil {
		t.Errorf("Resolve(Zelda) = %+v, want nil", c)
	}
}

const sampleVCF = `BEGIN:VCARD
VERSION:4.0
FN:Sarah Chen
TEL;TYPE=cell:+15551234567
END:VCARD
BEGIN:VCARD
VERSION:4.0
FN:Mike Torres
TEL:+15559876543
TEL:+15550001111
END:VCARD
BEGIN:VCARD
VERSION:4.0
TEL:+15552223333
END:VCARD
`

func TestImportVCards(t *testing.T) {
	s := newTestStore(t)

	n, err := s.ImportVCards(strings.NewReader(sampleVCF))
	if err != nil {
		t.Fatalf("ImportVCards: %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d contacts, want 2 (card without FN skipped)", n)
	}

	c, err := s.FindByName("Mike Torres")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if len(c.Facts[FactPhone]) != 2 {
		t.Errorf("Mike Torres phones = %v, want 2", c.Facts[FactPhone])
	}

	// Re-import is idempotent.
	if _, err := s.ImportVCards(strings.NewReader(sampleVCF)); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	all, err := s.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("after re-import ListAll = %d contacts, want 2", len(all))
	}
}
