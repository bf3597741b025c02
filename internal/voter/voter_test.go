package voter

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
)

func TestDecodeImage(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	enc := base64.StdEncoding.EncodeToString(raw)

	for _, in := range []string{enc, "data:image/png;base64," + enc, "  " + enc + "\n"} {
		got, err := DecodeImage(in)
		if err != nil {
			t.Fatalf("DecodeImage(%q): %v", in, err)
		}
		if string(got) != string(raw) {
			t.Fatalf("DecodeImage(%q) = %v", in, got)
		}
	}
	if _, err := DecodeImage("data:image/png;base64,"); !errors.Is(err, ErrNoPhoto) {
		t.Fatalf("expected ErrNoPhoto, got %v", err)
	}
}

func TestMemoryStoreEmailUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.UpsertContact(ctx, Contact{IdentityKey: "AB123", Email: "Voter@Example.com"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	// same identity may re-submit the same email
	if err := s.UpsertContact(ctx, Contact{IdentityKey: "AB123", Email: "voter@example.com", Phone: "012"}); err != nil {
		t.Fatalf("re-upsert same identity: %v", err)
	}
	if err := s.UpsertContact(ctx, Contact{IdentityKey: "CD456", Email: "VOTER@example.com"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	c, err := s.ContactByEmail(ctx, " voter@EXAMPLE.com ")
	if err != nil {
		t.Fatalf("ContactByEmail: %v", err)
	}
	if c.IdentityKey != "AB123" || c.Phone != "012" {
		t.Fatalf("unexpected contact %+v", c)
	}
}

func TestMemoryStoreLookup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Record{IDNumber: " ab 123", NameEN: "JOHN DOE", QRToken: "qr-1"})

	if _, err := s.FindIdentity(ctx, "AB123"); err != nil {
		t.Fatalf("FindIdentity: %v", err)
	}
	if _, err := s.FindIdentity(ctx, "ZZ999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	r, err := s.FindByQRToken(ctx, "qr-1")
	if err != nil || r.DisplayName() != "JOHN DOE" {
		t.Fatalf("FindByQRToken = %+v, %v", r, err)
	}
}
