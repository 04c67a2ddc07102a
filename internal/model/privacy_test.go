package model

import (
	"encoding/json"
	"testing"
)

func privateProfile() *Profile {
	voucher := "v1"
	return &Profile{
		ID:        "p1",
		Username:  "nikos",
		Email:     StringPtr("nikos@example.com"),
		FullName:  "Nikos Koukos",
		Bio:       "I like ice cream",
		IRCName:   "hax0r",
		Website:   "https://example.com",
		Country:   "GR",
		Region:    "Attica",
		City:      "Athens",
		IsVouched: true,
		VouchedBy: &voucher,
		Groups:    []string{"go", "rust"},
		Privacy:   Privacy{}.WithDefaults(),
	}
}

func TestLevel_JSON(t *testing.T) {
	var pr Privacy
	if err := json.Unmarshal([]byte(`{"fullName":"public","bio":"mozillians","email":""}`), &pr); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if pr.FullName != Public || pr.Bio != Mozillians || pr.Email != 0 {
		t.Errorf("Unmarshal() = %+v", pr)
	}

	if err := json.Unmarshal([]byte(`{"fullName":"everyone"}`), &pr); err == nil {
		t.Error("Unmarshal() should reject an unknown level")
	}

	out, err := json.Marshal(Privacy{FullName: Public}.WithDefaults())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back map[string]string
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back["fullName"] != "public" || back["groups"] != "mozillians" {
		t.Errorf("Marshal() = %s", out)
	}
}

func TestPrivacy_Settable(t *testing.T) {
	tests := []struct {
		name string
		pr   Privacy
		want bool
	}{
		{"zero", Privacy{}, true},
		{"public and mozillians", Privacy{FullName: Public, Bio: Mozillians}, true},
		{"employees", Privacy{Bio: Employees}, false},
		{"privileged", Privacy{Email: Privileged}, false},
		{"out of range", Privacy{City: 7}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pr.Settable(); got != tt.want {
				t.Errorf("Settable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProfile_IsPublic(t *testing.T) {
	p := privateProfile()
	if p.IsPublic() || p.IsPublicIndexable() {
		t.Fatal("a profile with default privacy must not be public")
	}

	p.Privacy.City = Public
	if !p.IsPublic() {
		t.Error("IsPublic() = false with a public city")
	}
	if p.IsPublicIndexable() {
		t.Error("IsPublicIndexable() = true with only the city public")
	}

	p.Privacy.IRCName = Public
	if !p.IsPublicIndexable() {
		t.Error("IsPublicIndexable() = false with a public IRC name")
	}

	// a public but empty field does not make the profile indexable
	p.IRCName = ""
	if p.IsPublicIndexable() {
		t.Error("IsPublicIndexable() = true with an empty public IRC name")
	}
}

func TestProfile_Redacted(t *testing.T) {
	p := privateProfile()
	p.Privacy.FullName = Public
	p.Privacy.Groups = Public

	pub := p.Redacted(Public)
	if pub.FullName != "Nikos Koukos" || len(pub.Groups) != 2 {
		t.Errorf("public fields were hidden: %+v", pub)
	}
	if pub.Email != nil || pub.Bio != "" || pub.IRCName != "" || pub.Website != "" ||
		pub.City != "" || pub.Region != "" || pub.Country != "" || pub.VouchedBy != nil {
		t.Errorf("Mozillian fields leaked to the public: %+v", pub)
	}
	if pub.Username != "nikos" || !pub.IsVouched {
		t.Errorf("unprotected fields must stay: %+v", pub)
	}

	member := p.Redacted(Mozillians)
	if member.EmailAddress() != "nikos@example.com" || member.Bio == "" || member.VouchedBy == nil {
		t.Errorf("Mozillian fields hidden from a Mozillian: %+v", member)
	}

	// the original is untouched
	if p.Bio == "" || p.Email == nil {
		t.Error("Redacted() modified the receiver")
	}
	pub.Groups[0] = "changed"
	if p.Groups[0] != "go" {
		t.Error("Redacted() shares the Groups slice")
	}

	p.Privacy.Bio = Employees
	if got := p.Redacted(Mozillians).Bio; got != "" {
		t.Errorf("employee bio shown to a Mozillian: %q", got)
	}
	if got := p.Redacted(Employees).Bio; got == "" {
		t.Error("employee bio hidden from an employee")
	}
}
