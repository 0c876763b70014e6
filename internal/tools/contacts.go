package tools

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/bizagent/internal/domain"
	"github.com/soyeahso/bizagent/internal/keylock"
)

const errInvalidPhone = "Formato de teléfono no válido. Use formato español: +34XXXXXXXXX o 6XXXXXXXX"

// Directory is the per-user contact book. A user's directory is seeded with
// domain.DefaultContacts on first access.
type Directory struct {
	store ContactStore
	locks *keylock.Locker
	now   func() time.Time
}

// NewDirectory wraps a contact store.
func NewDirectory(store ContactStore) *Directory {
	return &Directory{store: store, locks: keylock.New(), now: time.Now}
}

func (d *Directory) load(ctx context.Context, userID string) ([]domain.Contact, error) {
	contacts, ok, err := d.store.LoadContacts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading contacts: %w", err)
	}
	if ok {
		return contacts, nil
	}
	contacts = domain.DefaultContacts(d.now().UTC())
	if err := d.store.SaveContacts(ctx, userID, contacts); err != nil {
		return nil, fmt.Errorf("seeding contacts: %w", err)
	}
	return contacts, nil
}

// ListAll returns every contact of the user in stored order.
func (d *Directory) ListAll(ctx context.Context, userID string) ([]domain.Contact, error) {
	unlock := d.locks.Lock(userID)
	defer unlock()
	return d.load(ctx, userID)
}

// FindByID returns the contact with the given id, or nil.
func (d *Directory) FindByID(ctx context.Context, userID, id string) (*domain.Contact, error) {
	contacts, err := d.ListAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		if contacts[i].ID == id {
			c := contacts[i]
			return &c, nil
		}
	}
	return nil, nil
}

// FindByNameOrAlias matches query as a case-insensitive substring of name or
// alias. Several matches produce an ambiguous result.
func (d *Directory) FindByNameOrAlias(ctx context.Context, userID, query string) (domain.ContactMatch, error) {
	res := domain.ContactMatch{SearchTerm: query}
	term := strings.ToLower(strings.TrimSpace(query))
	if term == "" {
		return res, nil
	}
	contacts, err := d.ListAll(ctx, userID)
	if err != nil {
		return res, err
	}
	var matches []domain.Contact
	for _, c := range contacts {
		if strings.Contains(strings.ToLower(c.Name), term) || strings.Contains(strings.ToLower(c.Alias), term) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
	case 1:
		res.Contact = &matches[0]
	default:
		res.Ambiguous = true
		res.Matches = matches
	}
	return res, nil
}

// Mutate runs fn over the user's contacts under the user's lock and saves
// the returned slice. Returning a nil slice skips the save.
func (d *Directory) Mutate(ctx context.Context, userID string, fn func([]domain.Contact) ([]domain.Contact, error)) error {
	unlock := d.locks.Lock(userID)
	defer unlock()

	contacts, err := d.load(ctx, userID)
	if err != nil {
		return err
	}
	out, err := fn(contacts)
	if err != nil || out == nil {
		return err
	}
	return d.store.SaveContacts(ctx, userID, out)
}

func newContactID(now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 8 {
		ms = ms[len(ms)-8:]
	}
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return "contact_" + ms + "_" + string(suffix)
}

// Contacts manages the user's contact book.
type Contacts struct {
	base
	dir *Directory
}

// NewContacts creates the contacts tool.
func NewContacts(dir *Directory) *Contacts {
	return &Contacts{
		base: base{schema: Schema{
			Name:        "contacts",
			Description: "Gestiona la libreta de contactos del usuario (agregar, buscar, eliminar, listar contactos)",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"action": {Type: "string", Description: "Acción a realizar: add, search, list, delete, update", Enum: []string{"add", "search", "list", "delete", "update"}, Default: "list"},
					"name":   {Type: "string", Description: "Nombre del contacto"},
					"phone":  {Type: "string", Description: "Número de teléfono del contacto"},
					"email":  {Type: "string", Description: "Email del contacto (opcional)"},
					"alias":  {Type: "string", Description: "Alias o apodo del contacto (opcional)"},
					"query":  {Type: "string", Description: "Término de búsqueda para encontrar contactos"},
				},
				Required: []string{},
			},
		}},
		dir: dir,
	}
}

// Directory returns the contact book behind the tool.
func (c *Contacts) Directory() *Directory { return c.dir }

func (c *Contacts) Execute(ctx context.Context, args Args) (Result, error) {
	userID := args.UserID()
	var (
		res Result
		err error
	)
	switch action := args.StringOr("action", "list"); action {
	case "add":
		res, err = c.add(ctx, userID, args)
	case "search":
		res, err = c.search(ctx, userID, args.StringOr("query", args.String("name")))
	case "list":
		res, err = c.list(ctx, userID)
	case "delete":
		res, err = c.remove(ctx, userID, args.StringOr("name", args.String("query")))
	case "update":
		res, err = c.update(ctx, userID, args)
	default:
		return Failure("Acción no válida: " + action), nil
	}
	if err != nil {
		return Failure("Error en la gestión de contactos: " + err.Error()), nil
	}
	return res, nil
}

func (c *Contacts) add(ctx context.Context, userID string, args Args) (Result, error) {
	name, rawPhone := args.String("name"), args.String("phone")
	if name == "" || rawPhone == "" {
		return Failure("Nombre y teléfono son obligatorios para agregar un contacto"), nil
	}
	phone, ok := NormalizePhone(rawPhone)
	if !ok {
		return Failure(errInvalidPhone), nil
	}

	var res Result
	err := c.dir.Mutate(ctx, userID, func(contacts []domain.Contact) ([]domain.Contact, error) {
		for _, existing := range contacts {
			if strings.EqualFold(existing.Name, name) || existing.Phone == phone {
				res = Failure("Ya existe un contacto con ese nombre o teléfono")
				return nil, nil
			}
		}
		now := c.dir.now().UTC()
		nc := domain.Contact{
			ID:        newContactID(now),
			Name:      name,
			Phone:     phone,
			Email:     args.String("email"),
			Alias:     args.StringOr("alias", strings.Fields(name)[0]),
			CreatedAt: now,
		}
		res = Result{
			"success": true,
			"message": "Contacto agregado correctamente",
			"contact": map[string]any{"name": nc.Name, "phone": nc.Phone, "alias": nc.Alias},
		}
		return append(contacts, nc), nil
	})
	return res, err
}

func (c *Contacts) search(ctx context.Context, userID, query string) (Result, error) {
	if query == "" {
		return Failure("Debe proporcionar un término de búsqueda"), nil
	}
	contacts, err := c.dir.ListAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	term := strings.ToLower(query)
	found := []map[string]any{}
	for _, ct := range contacts {
		if strings.Contains(strings.ToLower(ct.Name), term) ||
			strings.Contains(strings.ToLower(ct.Alias), term) ||
			strings.Contains(ct.Phone, term) ||
			strings.Contains(strings.ToLower(ct.Email), term) {
			found = append(found, map[string]any{
				"name": ct.Name, "phone": ct.Phone, "alias": ct.Alias, "email": ct.Email, "favorite": ct.Favorite,
			})
		}
	}
	if len(found) == 0 {
		return Result{
			"success":  true,
			"message":  fmt.Sprintf("No se encontraron contactos que coincidan con %q", query),
			"contacts": found,
		}, nil
	}
	return Result{
		"success":  true,
		"message":  fmt.Sprintf("Se encontraron %d contacto(s)", len(found)),
		"contacts": found,
	}, nil
}

// SortContacts orders favorites first, then by name.
func SortContacts(contacts []domain.Contact) {
	sort.SliceStable(contacts, func(i, j int) bool {
		if contacts[i].Favorite != contacts[j].Favorite {
			return contacts[i].Favorite
		}
		return strings.ToLower(contacts[i].Name) < strings.ToLower(contacts[j].Name)
	})
}

func (c *Contacts) list(ctx context.Context, userID string) (Result, error) {
	contacts, err := c.dir.ListAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return Result{"success": true, "message": "No hay contactos en la libreta", "contacts": []map[string]any{}}, nil
	}
	SortContacts(contacts)

	favorites := 0
	out := make([]map[string]any, 0, len(contacts))
	for _, ct := range contacts {
		star := ""
		if ct.Favorite {
			favorites++
			star = "⭐"
		}
		out = append(out, map[string]any{
			"name": ct.Name, "phone": ct.Phone, "alias": ct.Alias, "email": ct.Email, "favorite": star,
		})
	}
	return Result{
		"success":       true,
		"message":       fmt.Sprintf("%d contactos en total", len(contacts)),
		"totalContacts": len(contacts),
		"favorites":     favorites,
		"contacts":      out,
	}, nil
}

func (c *Contacts) remove(ctx context.Context, userID, identifier string) (Result, error) {
	if identifier == "" {
		return Failure("Debe proporcionar el nombre o teléfono del contacto a eliminar"), nil
	}
	term := strings.ToLower(identifier)
	res := Failure(fmt.Sprintf("No se encontró un contacto que coincida con %q", identifier))
	err := c.dir.Mutate(ctx, userID, func(contacts []domain.Contact) ([]domain.Contact, error) {
		for i, ct := range contacts {
			if strings.Contains(strings.ToLower(ct.Name), term) ||
				strings.Contains(strings.ToLower(ct.Alias), term) ||
				strings.Contains(ct.Phone, identifier) {
				res = Result{
					"success":        true,
					"message":        "Contacto eliminado correctamente",
					"deletedContact": map[string]any{"name": ct.Name, "phone": ct.Phone},
				}
				out := append([]domain.Contact{}, contacts[:i]...)
				return append(out, contacts[i+1:]...), nil
			}
		}
		return nil, nil
	})
	return res, err
}

func (c *Contacts) update(ctx context.Context, userID string, args Args) (Result, error) {
	name := args.String("name")
	if name == "" {
		return Failure("Debe proporcionar el nombre del contacto a actualizar"), nil
	}
	var phone string
	if raw := args.String("phone"); raw != "" {
		p, ok := NormalizePhone(raw)
		if !ok {
			return Failure(errInvalidPhone), nil
		}
		phone = p
	}

	res := Failure(fmt.Sprintf("No se encontró un contacto con el nombre %q", name))
	err := c.dir.Mutate(ctx, userID, func(contacts []domain.Contact) ([]domain.Contact, error) {
		for i := range contacts {
			if !strings.EqualFold(contacts[i].Name, name) {
				continue
			}
			ct := &contacts[i]
			if phone != "" {
				ct.Phone = phone
			}
			if _, ok := args["email"]; ok {
				ct.Email = args.String("email")
			}
			if _, ok := args["alias"]; ok {
				ct.Alias = args.String("alias")
			}
			now := c.dir.now().UTC()
			ct.UpdatedAt = &now
			res = Result{
				"success": true,
				"message": "Contacto actualizado correctamente",
				"contact": map[string]any{"name": ct.Name, "phone": ct.Phone, "alias": ct.Alias, "email": ct.Email},
			}
			return contacts, nil
		}
		return nil, nil
	})
	return res, err
}
