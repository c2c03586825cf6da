// Package intake decides, one question at a time, what the broker still needs
// to know about a job before it can be priced.
package intake

import (
	"strings"

	"smider/broker-service/internal/model"
)

// FieldCategory is the pseudo-field reported when the category itself is unknown.
const FieldCategory = "category"

// UnsupportedCategoryError is returned when the extracted category is not one
// the broker handles. Intake must stop rather than guess.
type UnsupportedCategoryError struct {
	Category string
}

func (e *UnsupportedCategoryError) Error() string { return "category not supported" }

// Decision is the outcome of one slot-filling round.
//
// Exactly one of Question and Answer is set when Done is false. Answer is a
// reply to a question the user asked; it does not advance intake.
type Decision struct {
	Done          bool     `json:"done"`
	Question      string   `json:"question,omitempty"`
	Answer        string   `json:"answer,omitempty"`
	MissingFields []string `json:"missingFields,omitempty"`
}

// requirement makes field mandatory for the listed categories (all when
// empty) once when holds.
type requirement struct {
	field      string
	categories []model.Category
	when       func(p *model.Payload) bool
}

func (r requirement) applies(cat model.Category, p *model.Payload) bool {
	if len(r.categories) > 0 {
		found := false
		for _, c := range r.categories {
			if c == cat {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return r.when == nil || r.when(p)
}

var (
	newCircuitWords = []string{"ny kurs", "egen kurs"}
	productWords    = []string{"lampe", "pendel", "lysekrone", "lader", "zaptec", "easee", "termostat", "ovn", "vifte", "stikk", "kontakt", "dimmer", "bryter"}
	lampWords       = []string{"lampe", "pendel", "lysekrone"}
	evWords         = []string{"elbil", "lader", "zaptec", "easee"}
	spotWords       = []string{"spot"}
	leakWords       = []string{"lekk", "drypp"}
)

func mentions(words []string) func(p *model.Payload) bool {
	return func(p *model.Payload) bool {
		text := p.Text()
		for _, w := range words {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	}
}

// Controller holds the per-category required-field tables.
type Controller struct {
	base        map[model.Category][]string
	conditional []requirement
	questions   map[string]string
}

// NewController returns a controller with the built-in tables.
func NewController() *Controller {
	common := []string{"task_details", "materials_by_customer"}
	withArea := append(append([]string{}, common...), "area_sqm")

	base := map[model.Category][]string{
		model.CategoryElectrician:        common,
		model.CategoryCarpenter:          common,
		model.CategoryPlumber:            common,
		model.CategoryHandyman:           common,
		model.CategoryPainter:            withArea,
		model.CategoryTiling:             withArea,
		model.CategoryBathroomRenovation: withArea,
		model.CategoryKitchenInstall:     append(append([]string{}, common...), "cabinet_count"),
	}

	elec := []model.Category{model.CategoryElectrician}
	conditional := []requirement{
		{field: "materials_description", when: func(p *model.Payload) bool { return model.False(p.MaterialsByCustomer) }},
		{field: "appliance_type", categories: elec, when: mentions(newCircuitWords)},
		{field: "has_product", categories: elec, when: mentions(productWords)},
		{field: "product_info", categories: elec, when: func(p *model.Payload) bool {
			return mentions(productWords)(p) && model.False(p.HasProduct)
		}},
		{field: "has_existing_point", categories: elec, when: mentions(lampWords)},
		{field: "switch_type", categories: elec, when: mentions(lampWords)},
		{field: "ev_distance_meters", categories: elec, when: mentions(evWords)},
		{field: "spot_count", categories: elec, when: mentions(spotWords)},
		{field: "surface_type", categories: []model.Category{model.CategoryPainter}},
		{field: "leak_is_acute", categories: []model.Category{model.CategoryPlumber}, when: mentions(leakWords)},
	}

	return &Controller{base: base, conditional: conditional, questions: questions}
}

// Missing returns every missing field for cat in priority order: base fields
// first, then conditional ones in table order. A field holding false or 0 is
// not missing.
func (c *Controller) Missing(cat model.Category, p *model.Payload) []string {
	if p == nil {
		p = &model.Payload{}
	}
	var missing []string
	seen := map[string]bool{}
	add := func(f string) {
		if !seen[f] && !p.Known(f) {
			seen[f] = true
			missing = append(missing, f)
		}
	}
	for _, f := range c.base[cat] {
		add(f)
	}
	for _, r := range c.conditional {
		if r.applies(cat, p) {
			add(r.field)
		}
	}
	return missing
}

// Next decides the next step of intake for cat given what is known so far.
func (c *Controller) Next(cat model.Category, p *model.Payload) (Decision, error) {
	if !cat.IsSupported() {
		return Decision{}, &UnsupportedCategoryError{Category: string(cat)}
	}

	missing := c.Missing(cat, p)

	if p != nil && p.UserQuestion != nil {
		return Decision{Answer: AnswerUserQuestion(*p.UserQuestion), MissingFields: missing}, nil
	}
	if len(missing) > 0 {
		return Decision{Question: c.Question(missing[0]), MissingFields: missing}, nil
	}
	return Decision{Done: true}, nil
}

// Question returns the prompt for field.
func (c *Controller) Question(field string) string {
	if q, ok := c.questions[field]; ok {
		return q
	}
	return "Kan du gi litt mer informasjon om jobben?"
}
