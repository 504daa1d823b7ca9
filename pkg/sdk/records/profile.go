package records

import (
	"github.com/goccy/go-json"
)

// UserProfile holds the user details sent with user_details. Every setter
// that changes a value marks the profile dirty; the flag is cleared only
// once an upload carrying the profile succeeds.
type UserProfile struct {
	name         string
	username     string
	email        string
	organization string
	phone        string
	picture      string
	gender       string
	birthYear    int
	custom       *Segmentation

	changed  bool
	revision uint64
}

// NewUserProfile creates an empty, clean profile
func NewUserProfile() *UserProfile {
	return &UserProfile{custom: &Segmentation{}}
}

func (p *UserProfile) markDirty() {
	p.changed = true
	p.revision++
}

func (p *UserProfile) setString(field *string, value string) {
	if *field == value {
		return
	}
	*field = value
	p.markDirty()
}

func (p *UserProfile) SetName(v string)         { p.setString(&p.name, v) }
func (p *UserProfile) SetUsername(v string)     { p.setString(&p.username, v) }
func (p *UserProfile) SetEmail(v string)        { p.setString(&p.email, v) }
func (p *UserProfile) SetOrganization(v string) { p.setString(&p.organization, v) }
func (p *UserProfile) SetPhone(v string)        { p.setString(&p.phone, v) }
func (p *UserProfile) SetPicture(v string)      { p.setString(&p.picture, v) }
func (p *UserProfile) SetGender(v string)       { p.setString(&p.gender, v) }

// SetBirthYear sets the birth year. Zero clears it.
func (p *UserProfile) SetBirthYear(v int) {
	if p.birthYear == v {
		return
	}
	p.birthYear = v
	p.markDirty()
}

// SetCustom sets a custom property
func (p *UserProfile) SetCustom(key, value string) {
	if key == "" {
		return
	}
	if current, ok := p.custom.Get(key); ok && current == value {
		return
	}
	p.custom.Add(key, value)
	p.markDirty()
}

// RemoveCustom deletes a custom property
func (p *UserProfile) RemoveCustom(key string) {
	if p.custom.Remove(key) {
		p.markDirty()
	}
}

// ClearCustom removes every custom property
func (p *UserProfile) ClearCustom() {
	if p.custom.Len() == 0 {
		return
	}
	p.custom = &Segmentation{}
	p.markDirty()
}

// ReplaceCustom swaps the custom properties for seg when they differ
func (p *UserProfile) ReplaceCustom(seg *Segmentation) {
	if seg == nil {
		seg = &Segmentation{}
	}
	if equalSegments(p.custom.Items(), seg.Items()) {
		return
	}
	p.custom = seg.Clone()
	p.markDirty()
}

func (p *UserProfile) Name() string         { return p.name }
func (p *UserProfile) Username() string     { return p.username }
func (p *UserProfile) Email() string        { return p.email }
func (p *UserProfile) Organization() string { return p.organization }
func (p *UserProfile) Phone() string        { return p.phone }
func (p *UserProfile) Picture() string      { return p.picture }
func (p *UserProfile) Gender() string       { return p.gender }
func (p *UserProfile) BirthYear() int       { return p.birthYear }

// Custom returns a copy of the custom properties
func (p *UserProfile) Custom() *Segmentation { return p.custom.Clone() }

// Changed reports whether the profile has unsent changes
func (p *UserProfile) Changed() bool { return p.changed }

// Revision increases with every mutation
func (p *UserProfile) Revision() uint64 { return p.revision }

// ClearChanged clears the dirty flag if nothing changed since rev was read.
// It reports whether the flag was cleared.
func (p *UserProfile) ClearChanged(rev uint64) bool {
	if p.revision != rev {
		return false
	}
	p.changed = false
	return true
}

// Reset drops every field and the dirty flag
func (p *UserProfile) Reset() {
	*p = UserProfile{custom: &Segmentation{}, revision: p.revision + 1}
}

type profilePayload struct {
	Name         string        `json:"name,omitempty"`
	Username     string        `json:"username,omitempty"`
	Email        string        `json:"email,omitempty"`
	Organization string        `json:"organization,omitempty"`
	Phone        string        `json:"phone,omitempty"`
	Picture      string        `json:"picture,omitempty"`
	Gender       string        `json:"gender,omitempty"`
	BirthYear    int           `json:"byear,omitempty"`
	Custom       *Segmentation `json:"custom,omitempty"`
}

func (p *UserProfile) payload() profilePayload {
	out := profilePayload{
		Name:         p.name,
		Username:     p.username,
		Email:        p.email,
		Organization: p.organization,
		Phone:        p.phone,
		Picture:      p.picture,
		Gender:       p.gender,
		BirthYear:    p.birthYear,
	}
	if p.custom.Len() > 0 {
		out.Custom = p.custom.Clone()
	}
	return out
}

// Payload renders the user_details JSON
func (p *UserProfile) Payload() (string, error) {
	data, err := json.Marshal(p.payload())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type profileState struct {
	profilePayload
	IsChanged bool `json:"isChanged"`
}

// MarshalJSON encodes the persisted form, including the dirty flag
func (p *UserProfile) MarshalJSON() ([]byte, error) {
	return json.Marshal(profileState{profilePayload: p.payload(), IsChanged: p.changed})
}

// UnmarshalJSON restores the persisted form
func (p *UserProfile) UnmarshalJSON(data []byte) error {
	var st profileState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	p.name = st.Name
	p.username = st.Username
	p.email = st.Email
	p.organization = st.Organization
	p.phone = st.Phone
	p.picture = st.Picture
	p.gender = st.Gender
	p.birthYear = st.BirthYear
	p.custom = st.Custom
	if p.custom == nil {
		p.custom = &Segmentation{}
	}
	p.changed = st.IsChanged
	return nil
}

func equalSegments(a, b []Segment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
