// Package extract is the boundary to the natural-language extraction service.
// The service is untrusted: its output is sanitized, schema-checked and
// decoded fail-closed into a model.Payload.
package extract

import (
	"context"
	"encoding/json"
	"strings"

	"smider/broker-service/internal/model"
)

// Turn is one message of the intake conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Extractor returns the raw JSON object the extraction service produced for
// a conversation. The bytes are not trusted; pass them through Decode.
type Extractor interface {
	Extract(ctx context.Context, turns []Turn) ([]byte, error)
}

// ExtractorFunc adapts a plain function to Extractor.
type ExtractorFunc func(ctx context.Context, turns []Turn) ([]byte, error)

func (f ExtractorFunc) Extract(ctx context.Context, turns []Turn) ([]byte, error) {
	return f(ctx, turns)
}

// SystemPrompt is the instruction sent ahead of the conversation.
func SystemPrompt() string {
	cats := make([]string, 0, len(model.Categories))
	for _, c := range model.Categories {
		cats = append(cats, string(c))
	}

	var enums []string
	for _, f := range model.PayloadFields {
		if len(f.Enum) > 0 {
			enums = append(enums, f.Name+": "+strings.Join(quoteAll(f.Enum), " | "))
		}
	}

	parts := []string{
		"DU ER KUN EN JSON-EXTRACTOR.",
		"Du skal IKKE svare brukeren. IKKE forklare. IKKE gi råd.",
		"Returner kun gyldig JSON som følger JSON-skjemaet.",
		"",
		"GYLDIGE KATEGORIER (category): " + strings.Join(cats, ", ") + ".",
		"",
		"VIKTIG OM user_question:",
		"- Sett denne til null hvis brukeren beskriver jobben eller svarer på et spørsmål.",
		"- Sett denne KUN hvis brukeren eksplisitt lurer på noe faglig (f.eks \"Hva er jordet?\").",
		"",
		"TOLKNING:",
		"- \"Ønsker dimmer\" -> switch_type: \"new\", dimmer_count: 1 (minst).",
		"- \"Har lampe\" / \"Kjøpt lampe\" -> has_product: true.",
		"- \"Jeg kjøper materialer selv\" -> materials_by_customer: true.",
		"",
		"ENUMS (STRICT):",
		strings.Join(enums, "\n"),
		"",
		"Hvis ukjent -> null.",
	}
	return strings.Join(parts, "\n")
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = `"` + s + `"`
	}
	return out
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
