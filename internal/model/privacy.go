package model

import "fmt"

// Level is a privacy level. Lower values are more trusted audiences, and a
// field is shown to every viewer whose level is at most the field's level:
// a Mozillians field is visible to Mozillians, Employees and Privileged
// viewers but not to the Public.
type Level int

const (
	Privileged Level = 1
	Employees  Level = 2
	Mozillians Level = 3
	Public     Level = 4
)

var levelNames = map[Level]string{
	Privileged: "privileged",
	Employees:  "employees",
	Mozillians: "mozillians",
	Public:     "public",
}

// ParseLevel reads a level name as written by Level.String.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown privacy level %q", s)
}

// String returns the level name, or "" for the zero value.
func (l Level) String() string {
	return levelNames[l]
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText accepts the level names. An empty string is the zero value,
// which saving turns into Mozillians.
func (l *Level) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*l = 0
		return nil
	}
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Privacy holds the audience of every protected profile field. Username,
// vouch status and dates are never protected.
type Privacy struct {
	FullName  Level `json:"fullName"`
	IRCName   Level `json:"ircname"`
	Email     Level `json:"email"`
	Website   Level `json:"website"`
	Bio       Level `json:"bio"`
	City      Level `json:"city"`
	Region    Level `json:"region"`
	Country   Level `json:"country"`
	Groups    Level `json:"groups"`
	VouchedBy Level `json:"vouchedBy"`
}

// fields lists pointers to every level, in column order.
func (pr *Privacy) fields() []*Level {
	return []*Level{
		&pr.FullName, &pr.IRCName, &pr.Email, &pr.Website, &pr.Bio,
		&pr.City, &pr.Region, &pr.Country, &pr.Groups, &pr.VouchedBy,
	}
}

// WithDefaults returns pr with every unset level set to Mozillians.
func (pr Privacy) WithDefaults() Privacy {
	for _, l := range pr.fields() {
		if *l == 0 {
			*l = Mozillians
		}
	}
	return pr
}

// Settable reports whether members may choose every level in pr. Only
// Mozillians and Public are offered; the zero value means Mozillians.
func (pr Privacy) Settable() bool {
	for _, l := range pr.fields() {
		if *l != 0 && *l != Mozillians && *l != Public {
			return false
		}
	}
	return true
}

// IsPublic reports whether at least one field is visible to everyone.
// Profiles with no public field have no anonymous page.
func (p *Profile) IsPublic() bool {
	for _, l := range p.Privacy.fields() {
		if *l == Public {
			return true
		}
	}
	return false
}

// IsPublicIndexable reports whether the profile belongs in the public
// search index: one of full name, IRC name or email must be public and set.
func (p *Profile) IsPublicIndexable() bool {
	return (p.Privacy.FullName == Public && p.FullName != "") ||
		(p.Privacy.IRCName == Public && p.IRCName != "") ||
		(p.Privacy.Email == Public && p.EmailAddress() != "")
}

// Redacted returns a copy of p as a viewer at the given level sees it:
// every field whose level is more restrictive than viewer is emptied.
func (p *Profile) Redacted(viewer Level) *Profile {
	c := *p
	c.Groups = append([]string{}, p.Groups...)
	hidden := func(l Level) bool { return l < viewer }

	if hidden(p.Privacy.FullName) {
		c.FullName = ""
	}
	if hidden(p.Privacy.IRCName) {
		c.IRCName = ""
	}
	if hidden(p.Privacy.Email) {
		c.Email = nil
	}
	if hidden(p.Privacy.Website) {
		c.Website = ""
	}
	if hidden(p.Privacy.Bio) {
		c.Bio = ""
	}
	if hidden(p.Privacy.City) {
		c.City = ""
	}
	if hidden(p.Privacy.Region) {
		c.Region = ""
	}
	if hidden(p.Privacy.Country) {
		c.Country = ""
	}
	if hidden(p.Privacy.Groups) {
		c.Groups = []string{}
	}
	if hidden(p.Privacy.VouchedBy) {
		c.VouchedBy = nil
	}
	return &c
}
