package domain

import "time"

// Contact is an entry in a user's directory. Phone is always +34 normalized.
type Contact struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone"`
	Email     string     `json:"email"`
	Alias     string     `json:"alias"`
	Favorite  bool       `json:"favorite"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// ContactMatch is the outcome of a name or alias lookup.
// Exactly one of Contact or Matches is set when something was found.
type ContactMatch struct {
	Contact    *Contact  `json:"contact,omitempty"`
	Ambiguous  bool      `json:"ambiguous,omitempty"`
	Matches    []Contact `json:"matches,omitempty"`
	SearchTerm string    `json:"searchTerm"`
}

// Found reports whether the lookup produced at least one contact.
func (m ContactMatch) Found() bool {
	return m.Contact != nil || len(m.Matches) > 0
}

// DefaultContacts is the starter directory every user receives on first access.
func DefaultContacts(now time.Time) []Contact {
	return []Contact{
		{ID: "contact_001", Name: "María García", Phone: "+34678123456", Email: "maria.garcia@email.com", Alias: "María", Favorite: true, CreatedAt: now},
		{ID: "contact_002", Name: "Pedro Martínez", Phone: "+34612987654", Email: "pedro.martinez@email.com", Alias: "Pedro", CreatedAt: now},
		{ID: "contact_003", Name: "Ana López", Phone: "+34654321098", Email: "ana.lopez@email.com", Alias: "Ana", Favorite: true, CreatedAt: now},
		{ID: "contact_004", Name: "Carlos Ruiz", Phone: "+34687654321", Email: "carlos.ruiz@email.com", Alias: "Carlos", CreatedAt: now},
		{ID: "contact_005", Name: "Lucía Fernández", Phone: "+34643210987", Email: "lucia.fernandez@email.com", Alias: "Lucía", Favorite: true, CreatedAt: now},
		{ID: "contact_006", Name: "Daniel Rangel", Phone: "+34644344744", Alias: "Daniel", CreatedAt: now},
		{ID: "contact_007", Name: "Daniel Langa", Phone: "+34655355755", Alias: "Daniel", CreatedAt: now},
	}
}
