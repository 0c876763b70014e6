package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/soyeahso/bizagent/internal/domain"
	"github.com/soyeahso/bizagent/internal/hooks"
	"github.com/soyeahso/bizagent/internal/keylock"
	"github.com/soyeahso/bizagent/internal/logging"
)

// ConfirmationType tags proposal results that need explicit user approval.
const ConfirmationType = "bizum_confirmation"

const (
	errConfirmationMissing = "Confirmación no encontrada o ya procesada"
	errConfirmationExpired = "La confirmación ha expirado. Vuelve a solicitar el Bizum."
	errInvalidRecipient    = "El destinatario debe ser un número de teléfono español válido (+34XXXXXXXXX o 6XXXXXXXX)"
	recipientSuggestion    = "Busca el teléfono del contacto con la herramienta contacts y vuelve a intentarlo con el número, o pide al usuario que lo indique directamente."
)

// BizumOptions are the payment limits and behavior switches.
type BizumOptions struct {
	MinAmount    float64
	MaxAmount    float64
	HistoryLimit int
	MaxStored    int
	// ResolveContacts enables name and alias lookup of the recipient.
	// When off only phone numbers and explicit contact ids are accepted.
	ResolveContacts bool
}

// DefaultBizumOptions returns the standard limits.
func DefaultBizumOptions() BizumOptions {
	return BizumOptions{MinAmount: 0.01, MaxAmount: 1000, HistoryLimit: 10, MaxStored: 100}
}

// Bizum simulates peer-to-peer payments with a two-phase confirmation.
// Execute only proposes; Confirm commits or cancels.
type Bizum struct {
	base
	opts   BizumOptions
	mgr    *ConfirmationManager
	txs    TransactionStore
	dir    *Directory
	signer Signer
	hooks  *hooks.Manager
	locks  *keylock.Locker
	log    *logging.Logger

	now     func() time.Time
	newTxID func() string
}

// NewBizum creates the payment tool. dir, signer and hm may be nil.
func NewBizum(opts BizumOptions, mgr *ConfirmationManager, txs TransactionStore, dir *Directory, signer Signer, hm *hooks.Manager, log *logging.Logger) *Bizum {
	def := DefaultBizumOptions()
	if opts.MinAmount <= 0 {
		opts.MinAmount = def.MinAmount
	}
	if opts.MaxAmount <= 0 {
		opts.MaxAmount = def.MaxAmount
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = def.HistoryLimit
	}
	if opts.MaxStored <= 0 {
		opts.MaxStored = def.MaxStored
	}
	return &Bizum{
		base: base{schema: Schema{
			Name:        "bizum",
			Description: "Envía o solicita dinero mediante Bizum a un número de teléfono español, o consulta el historial. Los envíos y solicitudes quedan pendientes hasta que el usuario los confirma.",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"action":    {Type: "string", Description: "Acción a realizar: send, request, history", Enum: []string{"send", "request", "history"}, Default: "send"},
					"amount":    {Type: "number", Description: fmt.Sprintf("Cantidad en euros (máximo %s€)", num(opts.MaxAmount)), Minimum: floatPtr(opts.MinAmount), Maximum: floatPtr(opts.MaxAmount)},
					"recipient": {Type: "string", Description: "Número de teléfono del destinatario (+34XXXXXXXXX o 6XXXXXXXX)"},
					"contactId": {Type: "string", Description: "ID de un contacto de la libreta, cuando el usuario ha elegido uno concreto"},
					"concept":   {Type: "string", Description: "Concepto del envío (opcional)", Default: "Bizum"},
				},
				Required: []string{"action"},
			},
		}},
		opts:    opts,
		mgr:     mgr,
		txs:     txs,
		dir:     dir,
		signer:  signer,
		hooks:   hm,
		locks:   keylock.New(),
		log:     log.Sub("bizum"),
		now:     time.Now,
		newTxID: func() string { return "BZ" + ulid.Make().String() },
	}
}

// Options returns the active limits.
func (b *Bizum) Options() BizumOptions { return b.opts }

// Confirmations returns the pending confirmation manager.
func (b *Bizum) Confirmations() *ConfirmationManager { return b.mgr }

func (b *Bizum) Execute(ctx context.Context, args Args) (Result, error) {
	userID := args.UserID()
	switch action := args.StringOr("action", domain.TxSend); action {
	case "history":
		return b.History(ctx, userID)
	case domain.TxSend, domain.TxRequest:
		return b.propose(ctx, userID, action, args)
	default:
		return Failure("Acción no válida: " + action), nil
	}
}

// validateAmount applies the bounds to the raw value, then rounds to cents.
func (b *Bizum) validateAmount(args Args) (float64, string) {
	raw, ok := args.Float("amount")
	if !ok || raw <= 0 {
		return 0, "La cantidad debe ser mayor que 0€"
	}
	if raw > b.opts.MaxAmount {
		return 0, fmt.Sprintf("El límite máximo por transacción es %s€", num(b.opts.MaxAmount))
	}
	if raw < b.opts.MinAmount {
		return 0, fmt.Sprintf("La cantidad mínima es %s€", num(b.opts.MinAmount))
	}
	return math.Round(raw*100) / 100, ""
}

type recipient struct {
	name        string
	phone       string
	fromContact bool
}

// resolveRecipient returns the recipient or a failure result to hand back.
func (b *Bizum) resolveRecipient(ctx context.Context, userID string, args Args) (recipient, Result, error) {
	if id := args.String("contactId"); id != "" {
		if b.dir == nil {
			return recipient{}, Failure("La libreta de contactos no está disponible"), nil
		}
		c, err := b.dir.FindByID(ctx, userID, id)
		if err != nil {
			return recipient{}, nil, err
		}
		if c == nil {
			return recipient{}, Failure(fmt.Sprintf("No se encontró el contacto con id %q", id)), nil
		}
		return recipient{name: c.Name, phone: c.Phone, fromContact: true}, nil, nil
	}

	raw := args.String("recipient")
	if raw == "" {
		return recipient{}, Failure("Debe especificar un destinatario"), nil
	}
	if phone, ok := NormalizePhone(raw); ok {
		return recipient{name: phone, phone: phone}, nil, nil
	}

	if b.opts.ResolveContacts && b.dir != nil {
		m, err := b.dir.FindByNameOrAlias(ctx, userID, raw)
		if err != nil {
			return recipient{}, nil, err
		}
		if m.Contact != nil {
			return recipient{name: m.Contact.Name, phone: m.Contact.Phone, fromContact: true}, nil, nil
		}
		if m.Ambiguous {
			matches := make([]map[string]any, 0, len(m.Matches))
			for _, c := range m.Matches {
				matches = append(matches, map[string]any{"id": c.ID, "name": c.Name, "phone": c.Phone, "alias": c.Alias})
			}
			return recipient{}, Result{
				"success":             false,
				"needsDisambiguation": true,
				"searchTerm":          raw,
				"matches":             matches,
				"message":             fmt.Sprintf("Hay %d contactos que coinciden con %q. ¿A cuál te refieres?", len(matches), raw),
				"error":               "Destinatario ambiguo",
			}, nil
		}
	}

	return recipient{}, Result{
		"success":    false,
		"error":      errInvalidRecipient,
		"recipient":  raw,
		"suggestion": recipientSuggestion,
	}, nil
}

func infinitive(txType string) string {
	if txType == domain.TxRequest {
		return "solicitar"
	}
	return "enviar"
}

func euros(amount float64) string { return num(amount) + "€" }

func (b *Bizum) propose(ctx context.Context, userID, action string, args Args) (Result, error) {
	amount, msg := b.validateAmount(args)
	if msg != "" {
		return Failure(msg), nil
	}
	rcpt, fail, err := b.resolveRecipient(ctx, userID, args)
	if err != nil {
		return Failure("Error en la transacción Bizum: " + err.Error()), nil
	}
	if fail != nil {
		return fail, nil
	}

	tx := domain.Transaction{
		ID:             b.newTxID(),
		UserID:         userID,
		Type:           action,
		Amount:         amount,
		Recipient:      rcpt.name,
		RecipientPhone: rcpt.phone,
		FromContact:    rcpt.fromContact,
		Concept:        args.StringOr("concept", "Bizum"),
		Status:         domain.TxPending,
		CreatedAt:      b.now().UTC(),
	}

	unlock := b.locks.Lock(userID)
	p, err := b.mgr.Propose(ctx, tx)
	unlock()
	if err != nil {
		return Failure("Error en la transacción Bizum: " + err.Error()), nil
	}

	who := tx.Recipient
	if tx.FromContact {
		who = fmt.Sprintf("%s (%s)", tx.Recipient, tx.RecipientPhone)
	}
	details := fmt.Sprintf("Vas a %s %s %s %s. Concepto: %s. Confirma la operación en los próximos %s.",
		infinitive(tx.Type), euros(tx.Amount), tx.Preposition(), who, tx.Concept, minutes(b.mgr.TTL()))

	b.hooks.Emit(ctx, hooks.EventConfirmationCreated, map[string]any{
		"confirmationId": p.ID,
		"userId":         userID,
		"transaction":    tx,
		"expiresAt":      p.ExpiresAt,
	})

	return Result{
		"success":              true,
		"requiresConfirmation": true,
		"confirmationType":     ConfirmationType,
		"confirmationId":       p.ID,
		"transactionData": map[string]any{
			"id":             tx.ID,
			"type":           tx.Type,
			"amount":         tx.Amount,
			"recipient":      tx.Recipient,
			"recipientPhone": tx.RecipientPhone,
			"concept":        tx.Concept,
			"fromContact":    tx.FromContact,
		},
		"expiresAt": p.ExpiresAt.Format(time.RFC3339),
		"message":   "⏳ Bizum pendiente de confirmación",
		"details":   details,
	}, nil
}

func minutes(d time.Duration) string {
	m := int(d.Round(time.Minute) / time.Minute)
	if m <= 1 {
		return fmt.Sprintf("%d segundos", int(d/time.Second))
	}
	return fmt.Sprintf("%d minutos", m)
}

// Confirm commits (confirmed=true) or cancels a pending proposal. A
// confirmation resolves at most once; later calls report it as not found.
// signature, when empty, is produced by the configured signer.
func (b *Bizum) Confirm(ctx context.Context, userID, confirmationID string, confirmed bool, signature string) Result {
	unlock := b.locks.Lock(userID)
	defer unlock()

	log := b.log.With("userId", userID).With("confirmationId", confirmationID)

	p, err := b.mgr.Resolve(ctx, userID, confirmationID)
	switch {
	case errors.Is(err, ErrConfirmationNotFound):
		return Failure(errConfirmationMissing)
	case errors.Is(err, ErrConfirmationExpired):
		b.hooks.Emit(ctx, hooks.EventConfirmationExpired, map[string]any{
			"confirmationId": confirmationID,
			"userId":         userID,
			"transaction":    p.Transaction,
		})
		return Result{"success": false, "expired": true, "error": errConfirmationExpired}
	case err != nil:
		log.Error().Err(err).Msg("resolving confirmation")
		return Failure("Error en la transacción Bizum: " + err.Error())
	}

	tx := p.Transaction
	if !confirmed {
		log.Info().Msg("transaction cancelled")
		b.hooks.Emit(ctx, hooks.EventTransactionCanceled, map[string]any{
			"confirmationId": confirmationID,
			"userId":         userID,
			"transaction":    tx,
		})
		return Result{
			"success":   true,
			"cancelled": true,
			"message":   "❌ Bizum cancelado",
			"details":   fmt.Sprintf("No se ha %s %s %s %s", tx.Verb(), euros(tx.Amount), tx.Preposition(), tx.Recipient),
		}
	}

	now := b.now().UTC()
	tx.Status = domain.TxCompleted
	tx.ConfirmedAt = &now
	tx.Signature = signature
	if tx.Signature == "" && b.signer != nil {
		sig, err := b.signer.Sign(tx)
		if err != nil {
			log.Warn().Err(err).Msg("signing transaction")
		}
		tx.Signature = sig
	}

	if err := b.txs.AppendTransaction(ctx, tx, b.opts.MaxStored); err != nil {
		log.Error().Err(err).Msg("storing transaction")
		// put the proposal back so the user can retry before it expires
		if perr := b.mgr.store.PutConfirmation(ctx, p); perr != nil {
			log.Error().Err(perr).Msg("restoring confirmation")
		}
		return Failure("Error en la transacción Bizum: " + err.Error())
	}

	log.Info().Str("transactionId", tx.ID).Float64("amount", tx.Amount).Msg("transaction completed")
	b.hooks.Emit(ctx, hooks.EventTransactionDone, map[string]any{
		"confirmationId": confirmationID,
		"userId":         userID,
		"transaction":    tx,
	})

	return Result{
		"success":   true,
		"message":   fmt.Sprintf("✅ Bizum %s correctamente", tx.Verb()),
		"details":   fmt.Sprintf("Has %s %s %s %s", tx.Verb(), euros(tx.Amount), tx.Preposition(), tx.Recipient),
		"reference": "Referencia: " + tx.ID,
		"transaction": map[string]any{
			"id":             tx.ID,
			"type":           tx.Type,
			"amount":         euros(tx.Amount),
			"recipient":      tx.Recipient,
			"recipientPhone": tx.RecipientPhone,
			"concept":        tx.Concept,
			"status":         tx.Status,
			"confirmedAt":    now.Format(time.RFC3339),
			"signature":      tx.Signature,
		},
	}
}

// History returns the newest transactions of the user, newest first.
func (b *Bizum) History(ctx context.Context, userID string) (Result, error) {
	list, err := b.txs.RecentTransactions(ctx, userID, b.opts.HistoryLimit)
	if err != nil {
		return Failure("Error al obtener el historial: " + err.Error()), nil
	}
	if len(list) == 0 {
		return Result{"success": true, "message": "No hay transacciones registradas", "transactions": []map[string]any{}}, nil
	}

	out := make([]map[string]any, 0, len(list))
	for _, tx := range list {
		kind := "Envío"
		if tx.Type == domain.TxRequest {
			kind = "Solicitud"
		}
		status := tx.Status
		if status == domain.TxCompleted {
			status = "Completado"
		}
		at := tx.CreatedAt
		if tx.ConfirmedAt != nil {
			at = *tx.ConfirmedAt
		}
		out = append(out, map[string]any{
			"id":             tx.ID,
			"type":           kind,
			"amount":         euros(tx.Amount),
			"recipient":      tx.Recipient,
			"recipientPhone": tx.RecipientPhone,
			"concept":        tx.Concept,
			"date":           at.Local().Format("02/01/2006"),
			"time":           at.Local().Format("15:04:05"),
			"status":         status,
		})
	}
	return Result{
		"success":      true,
		"message":      fmt.Sprintf("Últimas %d transacciones Bizum", len(out)),
		"transactions": out,
	}, nil
}
