package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/bizagent/internal/tools"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	AgentName   string
	Description string
	Tools       []tools.Schema
	Now         time.Time
	ExtraPrompt string
}

// toolExamples are trigger phrases shown to the model for each built-in tool.
var toolExamples = map[string][]string{
	"calculator": {"What's 15 * 23?", "How much is 100 + 50?", "Calcula 15 * 23 + 100"},
	"weather":    {"What's the weather in Madrid?", "What's the temperature in Tokyo?"},
	"search":     {"Search for latest AI news", "Busca noticias de hoy"},
	"bizum":      {"Envía 25€ al 612345678", "Solicita 30€ al +34612987654", "Muestra mi historial de Bizum"},
	"contacts":   {"Muestra mis contactos", "Busca el contacto de Pedro", "Agrega a Ana a mis contactos", "¿Tienes el teléfono de María?"},
}

// BuildSystemPrompt constructs the default system prompt from the live tool
// catalog.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	name := cfg.AgentName
	if name == "" {
		name = "Asistente"
	}
	if cfg.Description != "" {
		fmt.Fprintf(&b, "You are %s, %s.\n\n", name, cfg.Description)
	} else {
		fmt.Fprintf(&b, "You are %s.\n\n", name)
	}

	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	fmt.Fprintf(&b, "Current date: %s\n\n", now.Format("2006-01-02"))

	if len(cfg.Tools) > 0 {
		b.WriteString("You have access to tools that you MUST use when appropriate. ")
		b.WriteString("Analyze every request to decide whether a tool is needed, and prefer a tool over your own knowledge for calculations, live data and payments.\n\n")

		b.WriteString("## Available Tools\n\n")
		for _, t := range cfg.Tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}

		b.WriteString("\n## Examples\n\n")
		for _, t := range cfg.Tools {
			for _, ex := range toolExamples[t.Name] {
				fmt.Fprintf(&b, "- %q → use the %s tool\n", ex, t.Name)
			}
		}

		b.WriteString("\nGuidelines:\n")
		b.WriteString("- If several tools are needed, call them in a logical sequence.\n")
		b.WriteString("- Bizum transfers need a Spanish phone number. If the user names a person, look the number up with the contacts tool first.\n")
		b.WriteString("- Never claim a Bizum was sent: the user confirms it separately.\n")
	}

	b.WriteString("\nRespond naturally and conversationally, in the user's language.\n")

	if cfg.ExtraPrompt != "" {
		b.WriteString("\n")
		b.WriteString(cfg.ExtraPrompt)
		b.WriteString("\n")
	}

	return b.String()
}
