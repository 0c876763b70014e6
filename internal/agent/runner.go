package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/bizagent/internal/domain"
	"github.com/soyeahso/bizagent/internal/hooks"
	"github.com/soyeahso/bizagent/internal/keylock"
	"github.com/soyeahso/bizagent/internal/llm"
	"github.com/soyeahso/bizagent/internal/logging"
	"github.com/soyeahso/bizagent/internal/metrics"
	"github.com/soyeahso/bizagent/internal/tools"
)

// DefaultMaxIterations bounds the completion round trips of one message.
const DefaultMaxIterations = 10

// Errors reported by the runner.
var (
	ErrEmptyMessage  = errors.New("message is required")
	ErrMaxIterations = errors.New("maximum iterations reached")
	ErrStreamEnded   = errors.New("stream ended unexpectedly")
)

// RunnerConfig configures the agent runner.
type RunnerConfig struct {
	AgentName     string
	Description   string
	Model         string
	MaxIterations int
	MaxTokens     int
	Temperature   *float64
	ExtraPrompt   string

	// WordDelay paces the word-by-word replay of a finished reply in
	// streaming mode.
	WordDelay time.Duration

	// ActiveWindow decides which sessions ActiveSessions reports.
	ActiveWindow time.Duration
}

// Request is an inbound message.
type Request struct {
	Message      string `json:"message"`
	UserID       string `json:"userId,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// Result is the outcome of ProcessMessage.
type Result struct {
	Success              bool       `json:"success"`
	Response             string     `json:"response,omitempty"`
	UserID               string     `json:"userId"`
	Iterations           int        `json:"iterations,omitempty"`
	ToolsUsed            []string   `json:"toolsUsed"`
	Usage                *llm.Usage `json:"usage,omitempty"`
	Error                string     `json:"error,omitempty"`
	RequiresConfirmation bool       `json:"requiresConfirmation,omitempty"`
	ConfirmationID       string     `json:"confirmationId,omitempty"`
	NeedsDisambiguation  bool       `json:"needsDisambiguation,omitempty"`
}

// Runner is the agent orchestration loop. It turns a user message into
// tool calls and a final reply, in one-shot or streaming form.
type Runner struct {
	cfg      RunnerConfig
	client   llm.Client
	sessions SessionStore
	tools    *tools.Registry
	metrics  *metrics.Metrics
	hooks    *hooks.Manager
	locks    *keylock.Locker
	log      *logging.Logger

	newUserID func() string
}

// NewRunner creates an agent runner.
func NewRunner(cfg RunnerConfig, client llm.Client, sessions SessionStore, registry *tools.Registry, log *logging.Logger) *Runner {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.WordDelay < 0 {
		cfg.WordDelay = 0
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = time.Hour
	}
	return &Runner{
		cfg:       cfg,
		client:    client,
		sessions:  sessions,
		tools:     registry,
		locks:     keylock.New(),
		log:       log.Sub("agent"),
		newUserID: GenerateUserID,
	}
}

// WithMetrics records message, tool and provider metrics on m.
func (r *Runner) WithMetrics(m *metrics.Metrics) *Runner {
	r.metrics = m
	return r
}

// WithHooks emits session lifecycle events on hm.
func (r *Runner) WithHooks(hm *hooks.Manager) *Runner {
	r.hooks = hm
	return r
}

// Tools returns the registry the runner offers to the model.
func (r *Runner) Tools() *tools.Registry {
	return r.tools
}

// Config returns the effective configuration.
func (r *Runner) Config() RunnerConfig {
	return r.cfg
}

// GenerateUserID returns a fresh identifier of the form user_<8 digits>_<6 chars>.
func GenerateUserID() string {
	millis := time.Now().UnixMilli() % 100_000_000
	return fmt.Sprintf("user_%08d_%s", millis, strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

// turn is the working state of one message through the loop.
type turn struct {
	userID     string
	message    string
	system     string
	messages   []llm.Message
	toolsUsed  []string
	iterations int
	usage      llm.Usage

	needsDisambiguation bool
}

type outcomeKind int

const (
	outcomeContent      outcomeKind = iota // the model answered
	outcomeConfirmation                    // a payment awaits the user
	outcomeNoContent                       // neither tools nor text
	outcomeExhausted                       // iteration bound reached
)

type outcome struct {
	kind           outcomeKind
	content        string
	confirmationID string
}

func (r *Runner) userIDFor(req Request) string {
	if id := strings.TrimSpace(req.UserID); id != "" {
		return id
	}
	return r.newUserID()
}

// begin loads the user's history and builds the initial message sequence.
func (r *Runner) begin(ctx context.Context, userID string, req Request) (*turn, error) {
	history, err := r.sessions.History(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	system := req.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = BuildSystemPrompt(PromptConfig{
			AgentName:   r.cfg.AgentName,
			Description: r.cfg.Description,
			Tools:       r.tools.Schemas(),
			ExtraPrompt: r.cfg.ExtraPrompt,
		})
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	for _, h := range history {
		msgs = append(msgs, llm.Message{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Message})

	r.log.Info().
		Str("userId", userID).
		Int("messageLength", len(req.Message)).
		Int("historyLen", len(history)).
		Msg("processing message")

	return &turn{userID: userID, message: req.Message, system: system, messages: msgs}, nil
}

// resolve runs the tool-resolution loop shared by both modes. emit receives
// tool_execution and bizum_confirmation events; the one-shot mode discards
// them. A pending payment is written to history here since both modes stop
// on it the same way.
func (r *Runner) resolve(ctx context.Context, t *turn, emit func(Event)) (outcome, error) {
	defs := r.tools.Definitions()

	for t.iterations < r.cfg.MaxIterations {
		t.iterations++
		log := r.log.With("userId", t.userID)
		log.Debug().Int("iteration", t.iterations).Msg("requesting completion")

		resp, err := r.client.Complete(ctx, llm.CompletionRequest{
			Model:       r.cfg.Model,
			System:      t.system,
			Messages:    t.messages,
			Tools:       defs,
			MaxTokens:   r.cfg.MaxTokens,
			Temperature: r.cfg.Temperature,
		})
		if err != nil {
			return outcome{}, fmt.Errorf("completion: %w", err)
		}
		t.usage.Add(resp.Usage)

		if !resp.WantsTools() {
			if content := cleanResponse(resp.Content, log); content != "" {
				return outcome{kind: outcomeContent, content: content}, nil
			}
			return outcome{kind: outcomeNoContent}, nil
		}

		names := make([]string, len(resp.ToolCalls))
		for i, call := range resp.ToolCalls {
			names[i] = call.Name
		}
		t.toolsUsed = append(t.toolsUsed, names...)
		emit(Event{Type: EventToolExecution, Tools: names, Iteration: t.iterations})

		t.messages = append(t.messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results := r.executeToolCalls(ctx, t.userID, resp.ToolCalls)
		for _, tr := range results {
			if tr.result.NeedsDisambiguation() {
				t.needsDisambiguation = true
			}
			if !tr.result.RequiresConfirmation() || tr.result.Str("confirmationType") != tools.ConfirmationType {
				continue
			}

			narrative := tr.result.Str("message") + "\n" + tr.result.Str("details")
			if err := r.sessions.AppendExchange(ctx, t.userID, t.message, narrative); err != nil {
				return outcome{}, fmt.Errorf("saving history: %w", err)
			}
			data, _ := tr.result["transactionData"].(map[string]any)
			amount, _ := data["amount"].(float64)
			recipient, _ := data["recipient"].(string)
			concept, _ := data["concept"].(string)
			id := tr.result.Str("confirmationId")

			log.Info().Str("confirmationId", id).Msg("payment awaiting confirmation")
			emit(Event{
				Type:           EventConfirmation,
				ConfirmationID: id,
				Recipient:      recipient,
				Amount:         amount,
				Concept:        concept,
			})
			return outcome{kind: outcomeConfirmation, content: narrative, confirmationID: id}, nil
		}

		for _, tr := range results {
			t.messages = append(t.messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    tr.content,
				ToolCallID: tr.call.ID,
			})
		}
	}

	r.log.Warn().Str("userId", t.userID).Int("maxIterations", r.cfg.MaxIterations).Msg("agent reached maximum iterations")
	return outcome{kind: outcomeExhausted}, nil
}

// toolResult pairs a tool call with its structured and serialized result.
type toolResult struct {
	call    llm.ToolCall
	result  tools.Result
	content string
}

// executeToolCalls runs each call in order. Every call gets a result, even
// when its arguments are unparseable or the tool fails.
func (r *Runner) executeToolCalls(ctx context.Context, userID string, calls []llm.ToolCall) []toolResult {
	results := make([]toolResult, 0, len(calls))
	for _, call := range calls {
		start := time.Now()
		res := r.runTool(ctx, userID, call)
		r.metrics.RecordToolCall(call.Name, res.Success(), time.Since(start))

		data, err := json.Marshal(res)
		if err != nil {
			data, _ = json.Marshal(tools.Failure("unserializable tool result: " + err.Error()))
		}
		results = append(results, toolResult{call: call, result: res, content: string(data)})
	}
	return results
}

func (r *Runner) runTool(ctx context.Context, userID string, call llm.ToolCall) tools.Result {
	log := r.log.With("userId", userID).With("tool", call.Name)

	var args tools.Args
	if raw := strings.TrimSpace(call.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			log.Warn().Err(err).Msg("invalid tool arguments")
			return tools.Failure("invalid tool arguments: " + err.Error())
		}
	}
	if args == nil {
		args = tools.Args{}
	}
	// the user is always the caller, whatever the model put there
	args[tools.ArgUserID] = userID

	log.Info().Msg("executing tool")
	res, err := r.tools.Execute(ctx, call.Name, args)
	if err != nil {
		log.Error().Err(err).Msg("tool execution failed")
		return tools.Failure(err.Error())
	}
	if res == nil {
		return tools.Failure("tool returned no result")
	}
	return res
}

// ProcessMessage handles one message and returns the full result. The
// returned error mirrors Result.Error for callers that branch on it.
func (r *Runner) ProcessMessage(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	userID := r.userIDFor(req)
	res := &Result{UserID: userID, ToolsUsed: []string{}}

	fail := func(err error, iterations int) (*Result, error) {
		r.log.Error().Err(err).Str("userId", userID).Msg("error processing message")
		r.metrics.RecordMessage("sync", iterations, time.Since(start), err)
		res.Success = false
		res.Error = err.Error()
		return res, err
	}

	if strings.TrimSpace(req.Message) == "" {
		return fail(ErrEmptyMessage, 0)
	}

	unlock := r.locks.Lock(userID)
	defer unlock()

	t, err := r.begin(ctx, userID, req)
	if err != nil {
		return fail(err, 0)
	}

	out, err := r.resolve(ctx, t, func(Event) {})
	res.Iterations = t.iterations
	res.ToolsUsed = dedupe(t.toolsUsed)
	res.NeedsDisambiguation = t.needsDisambiguation
	if t.usage != (llm.Usage{}) {
		usage := t.usage
		res.Usage = &usage
	}
	if err != nil {
		res.ToolsUsed = []string{}
		return fail(err, t.iterations)
	}

	switch out.kind {
	case outcomeContent:
		if err := r.sessions.AppendExchange(ctx, userID, req.Message, out.content); err != nil {
			return fail(fmt.Errorf("saving history: %w", err), t.iterations)
		}
	case outcomeConfirmation:
		res.RequiresConfirmation = true
		res.ConfirmationID = out.confirmationID
	default:
		return fail(ErrMaxIterations, t.iterations)
	}

	res.Success = true
	res.Response = out.content
	r.metrics.RecordMessage("sync", t.iterations, time.Since(start), nil)
	r.log.Info().
		Str("userId", userID).
		Int("iterations", t.iterations).
		Strs("toolsUsed", res.ToolsUsed).
		Dur("duration", time.Since(start)).
		Msg("response generated")
	return res, nil
}

// ProcessMessageStream handles one message and streams its progress. The
// channel closes after the terminal event. A consumer that stops reading
// must cancel ctx; the producer then exits without a terminal event.
func (r *Runner) ProcessMessageStream(ctx context.Context, req Request) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		defer r.metrics.StreamStarted()()
		r.stream(ctx, req, ch)
	}()
	return ch
}

func (r *Runner) stream(ctx context.Context, req Request, ch chan<- Event) {
	start := time.Now()
	userID := r.userIDFor(req)
	iterations := 0

	send := func(e Event) bool {
		e.UserID = userID
		select {
		case ch <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		r.log.Error().Err(err).Str("userId", userID).Msg("error processing message with streaming")
		r.metrics.RecordMessage("stream", iterations, time.Since(start), err)
		send(Event{Type: EventError, Error: err.Error(), ToolsUsed: []string{}, IsComplete: true})
	}

	if strings.TrimSpace(req.Message) == "" {
		fail(ErrEmptyMessage)
		return
	}

	unlock := r.locks.Lock(userID)
	defer unlock()

	t, err := r.begin(ctx, userID, req)
	if err != nil {
		fail(err)
		return
	}

	out, err := r.resolve(ctx, t, func(e Event) { send(e) })
	iterations = t.iterations
	if err != nil {
		fail(err)
		return
	}

	complete := func(response string) {
		r.metrics.RecordMessage("stream", t.iterations, time.Since(start), nil)
		var usage *llm.Usage
		if t.usage != (llm.Usage{}) {
			u := t.usage
			usage = &u
		}
		send(Event{
			Type:       EventComplete,
			Response:   response,
			Iterations: t.iterations,
			ToolsUsed:  dedupe(t.toolsUsed),
			Usage:      usage,
			IsComplete: true,
		})
	}

	switch out.kind {
	case outcomeConfirmation:
		complete(out.content)

	case outcomeContent:
		if !r.replayWords(ctx, out.content, t.iterations, send) {
			return
		}
		if err := r.sessions.AppendExchange(ctx, userID, req.Message, out.content); err != nil {
			fail(fmt.Errorf("saving history: %w", err))
			return
		}
		complete(out.content)

	case outcomeNoContent:
		r.streamFinal(ctx, t, send, complete, fail)

	default:
		r.log.Error().Err(ErrMaxIterations).Str("userId", userID).Msg("error processing message with streaming")
		r.metrics.RecordMessage("stream", t.iterations, time.Since(start), ErrMaxIterations)
		send(Event{
			Type:       EventError,
			Error:      ErrMaxIterations.Error(),
			Iterations: t.iterations,
			ToolsUsed:  dedupe(t.toolsUsed),
			IsComplete: true,
		})
	}
}

// replayWords emits an already complete reply word by word. It reports
// false when the consumer went away.
func (r *Runner) replayWords(ctx context.Context, content string, iteration int, send func(Event) bool) bool {
	words := strings.Split(content, " ")
	for i, w := range words {
		chunk := w
		if i > 0 {
			chunk = " " + w
		}
		if !send(Event{Type: EventContent, Content: chunk, Iteration: iteration}) {
			return false
		}
		if r.cfg.WordDelay > 0 && i < len(words)-1 {
			timer := time.NewTimer(r.cfg.WordDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return false
			}
		}
	}
	return true
}

// streamFinal asks the provider for a genuine incremental reply with no
// tools offered and relays its deltas. History is written only once the
// provider signals completion.
func (r *Runner) streamFinal(ctx context.Context, t *turn, send func(Event) bool, complete func(string), fail func(error)) {
	if !send(Event{Type: EventResponseStart}) {
		return
	}

	stream, err := r.client.Stream(ctx, llm.CompletionRequest{
		Model:       r.cfg.Model,
		System:      t.system,
		Messages:    t.messages,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
		Stream:      true,
	})
	if err != nil {
		fail(fmt.Errorf("completion stream: %w", err))
		return
	}
	// release the provider if we leave early
	defer func() {
		go func() {
			for range stream {
			}
		}()
	}()

	var full strings.Builder
	for evt := range stream {
		switch evt.Type {
		case llm.EventDelta:
			if evt.Content == "" {
				continue
			}
			full.WriteString(evt.Content)
			if !send(Event{Type: EventContent, Content: evt.Content, Iteration: t.iterations}) {
				return
			}
		case llm.EventDone:
			response := full.String()
			if evt.Response != nil {
				t.usage.Add(evt.Response.Usage)
				if response == "" {
					response = evt.Response.Content
				}
			}
			if err := r.sessions.AppendExchange(ctx, t.userID, t.message, response); err != nil {
				fail(fmt.Errorf("saving history: %w", err))
				return
			}
			complete(response)
			return
		case llm.EventError:
			fail(fmt.Errorf("stream error: %s", evt.Error))
			return
		}
	}

	r.log.Warn().Str("userId", t.userID).Int("responseLength", full.Len()).Msg("stream ended without completion signal")
	fail(ErrStreamEnded)
}

// History returns the user's stored conversation.
func (r *Runner) History(ctx context.Context, userID string) ([]domain.HistoryEntry, error) {
	return r.sessions.History(ctx, userID)
}

// CreateSession creates (or returns) a session, generating an id when
// userID is empty.
func (r *Runner) CreateSession(ctx context.Context, userID string) (*domain.Session, error) {
	if strings.TrimSpace(userID) == "" {
		userID = r.newUserID()
	}
	return r.sessions.Create(ctx, userID)
}

// ClearHistory empties the user's history.
func (r *Runner) ClearHistory(ctx context.Context, userID string) error {
	unlock := r.locks.Lock(userID)
	defer unlock()
	if err := r.sessions.Clear(ctx, userID); err != nil {
		return err
	}
	r.log.Info().Str("userId", userID).Msg("conversation history cleared")
	r.hooks.Emit(ctx, hooks.EventSessionCleared, map[string]any{"userId": userID})
	return nil
}

// DeleteSession removes the user's session entirely.
func (r *Runner) DeleteSession(ctx context.Context, userID string) (bool, error) {
	unlock := r.locks.Lock(userID)
	defer unlock()
	return r.sessions.Delete(ctx, userID)
}

// Sessions lists every session, marking those inside the active window.
func (r *Runner) Sessions(ctx context.Context) ([]domain.SessionSummary, error) {
	return r.sessions.List(ctx, time.Now().Add(-r.cfg.ActiveWindow))
}

// ActiveSessions lists the sessions inside the active window.
func (r *Runner) ActiveSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	return r.sessions.ListActive(ctx, time.Now().Add(-r.cfg.ActiveWindow))
}

// PruneSessions deletes sessions idle since before and returns how many.
func (r *Runner) PruneSessions(ctx context.Context, before time.Time) (int, error) {
	n, err := r.sessions.Prune(ctx, before)
	if err != nil {
		return 0, err
	}
	r.log.Info().Int("pruned", n).Time("before", before).Msg("idle sessions pruned")
	return n, nil
}

// dedupe keeps the first occurrence of each name, in order.
func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// xmlFuncCallRe matches <function_calls>...</function_calls> blocks some
// models leak into plain content.
var xmlFuncCallRe = regexp.MustCompile(`(?s)<function_calls>.*?</function_calls>`)

// toolCallFenceRe matches ```tool_call ...``` blocks.
var toolCallFenceRe = regexp.MustCompile("(?s)```tool_call\\s*\n.*?\n\\s*```")

// blankLineCollapseRe collapses 3+ consecutive newlines to a single blank line.
var blankLineCollapseRe = regexp.MustCompile(`\n{3,}`)

// cleanResponse strips leaked tool-call markup from a final reply. Stripped
// blocks are logged so they stay visible for debugging.
func cleanResponse(text string, log *logging.Logger) string {
	for _, m := range xmlFuncCallRe.FindAllString(text, -1) {
		log.Info().Str("xml", m).Msg("stripped XML function_calls from model response")
	}
	cleaned := xmlFuncCallRe.ReplaceAllString(text, "\n\n")
	cleaned = toolCallFenceRe.ReplaceAllString(cleaned, "\n\n")
	cleaned = blankLineCollapseRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
