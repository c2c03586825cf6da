package intake

import "strings"

const (
	MsgEstimateReady       = "Takk! Jeg har forstått oppdraget og laget et estimat."
	MsgCategoryUnsupported = "Beklager, vi tilbyr ikke denne typen oppdrag ennå."
)

var questions = map[string]string{
	FieldCategory:           "Hva slags håndverker trenger du? (F.eks elektriker, maler, rørlegger eller snekker?)",
	"task_details":          "Kan du kort beskrive hva du trenger hjelp til?",
	"materials_by_customer": "Kjøper du materialene selv, eller skal håndverkeren ta med dette?",
	"materials_description": "Hvilke materialer trengs? Beskriv gjerne type og mengde.",
	"area_sqm":              "Omtrent hvor mange kvadratmeter gjelder det?",
	"cabinet_count":         "Hvor mange skap/moduler skal monteres?",
	"appliance_type":        "Hva skal kobles til den nye kursen? (F.eks platetopp, komfyr, elbillader eller vanlig stikkontakt?)",
	"has_product":           "Har du produktet/utstyret som skal monteres selv, eller skal elektrikeren ta med dette?",
	"product_info":          "Kan du skrive navnet på produktet/utstyret eller legge ved en lenke, så elektrikeren vet hva som skal monteres?",
	"has_existing_point":    "Er det lagt opp punkt/stikkontakt i taket der lampen skal henge, eller må det legges nytt?",
	"switch_type":           "Skal lampen kobles til en eksisterende bryter/dimmer, eller ønsker du at det monteres en ny?",
	"ev_distance_meters":    "Omtrent hvor mange meter er det fra sikringsskapet til der laderen skal stå?",
	"spot_count":            "Hvor mange spotter ønsker du?",
	"surface_type":          "Gjelder det innvendig eller utvendig maling?",
	"leak_is_acute":         "Lekker det akkurat nå, slik at det haster?",
}

type cannedAnswer struct {
	keywords []string
	answer   string
}

var cannedAnswers = []cannedAnswer{
	{
		keywords: []string{"lastbalansering"},
		answer:   "Lastbalansering betyr at elbilladeren automatisk justerer ladeeffekten slik at du ikke overbelaster sikringsskapet når andre apparater brukes samtidig.\n\nØnsker du lastbalansering?",
	},
	{
		keywords: []string{"1-fase", "3-fase"},
		answer:   "1-fase og 3-fase handler om hvor mye effekt anlegget kan levere. 3-fase gir ofte raskere og mer stabil lading.\n\nVet du om boligen din har 1-fase eller 3-fase?",
	},
	{
		keywords: []string{"jordet", "ujordet"},
		answer:   "Jordet stikkontakt har ekstra sikkerhet mot feilstrøm. På kjøkken, bad og utendørs er jordet vanligvis påkrevd.\n\nVet du om kontakten er jordet?",
	},
	{
		keywords: []string{"komfyrvakt"},
		answer:   "Komfyrvakt er påbudt ved nyinstallasjon av komfyr og platetopp. Den slår av strømmen automatisk ved fare for brann.\n\nSkal det monteres ny komfyr eller platetopp?",
	},
	{
		keywords: []string{"membran", "våtrom"},
		answer:   "Våtromsmembran er et tett sjikt under flisene som hindrer fukt i å trenge inn i veggene. Det kreves ved rehabilitering av bad.\n\nSkal hele badet pusses opp?",
	},
}

// AnswerUserQuestion returns a canned explanation for a question the user
// asked mid-intake.
func AnswerUserQuestion(q string) string {
	text := strings.ToLower(q)
	for _, c := range cannedAnswers {
		for _, k := range c.keywords {
			if strings.Contains(text, k) {
				return c.answer
			}
		}
	}
	return "Kan du utdype eller forklare litt nærmere hva du mener?"
}
