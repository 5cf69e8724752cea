package mautic

import (
	"bytes"

	json "github.com/goccy/go-json"
)

// ContactRef identifies a Mautic contact.
type ContactRef struct {
	ID string
}

// DNCEntry is one doNotContact record on a contact.
type DNCEntry struct {
	Channel  string `json:"channel"`
	Reason   int    `json:"reason"`
	Comments string `json:"comments"`
}

// Contact is the subset of a Mautic contact this service reads.
type Contact struct {
	ID           string
	Email        string
	DoNotContact []DNCEntry
}

// HasEmailDNC reports whether the contact is suppressed on the email channel.
func (c *Contact) HasEmailDNC() bool {
	for _, e := range c.DoNotContact {
		if e.Channel == "email" {
			return true
		}
	}
	return false
}

// DNCResult is the raw outcome of a DNC add call.
type DNCResult struct {
	StatusCode int
	Errors     string
	Body       []byte
}

// Accepted is true for HTTP 200/201 with no errors in the body.
func (r *DNCResult) Accepted() bool {
	return (r.StatusCode == 200 || r.StatusCode == 201) && r.Errors == ""
}

type contactPayload struct {
	ID     json.Number `json:"id"`
	Fields struct {
		Core struct {
			Email struct {
				Value *string `json:"value"`
			} `json:"email"`
		} `json:"core"`
	} `json:"fields"`
	DoNotContact []DNCEntry `json:"doNotContact"`
}

func (p contactPayload) toContact(id string) Contact {
	c := Contact{ID: id, DoNotContact: p.DoNotContact}
	if c.ID == "" {
		c.ID = p.ID.String()
	}
	if p.Fields.Core.Email.Value != nil {
		c.Email = *p.Fields.Core.Email.Value
	}
	return c
}

// searchResponse decodes GET /api/contacts. Mautic returns "contacts" as an
// object keyed by id, or as an empty array when nothing matched.
type searchResponse struct {
	Contacts json.RawMessage `json:"contacts"`
}

func (r searchResponse) candidates() ([]Contact, error) {
	raw := bytes.TrimSpace(r.Contacts)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, nil
	}
	var byID map[string]contactPayload
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, err
	}
	out := make([]Contact, 0, len(byID))
	for id, p := range byID {
		out = append(out, p.toContact(id))
	}
	return out, nil
}

type contactResponse struct {
	Contact *contactPayload `json:"contact"`
}

type dncRequest struct {
	Reason   int    `json:"reason"`
	Comments string `json:"comments"`
}
