// Package pricing turns a structured job payload into an hour estimate, a
// price range and an itemized breakdown.
//
// Pricing is deterministic and has no I/O. Every category has an ordered
// rule list; the first rule whose trigger matches decides the hours (a
// decision list, not a sum). Prices then follow:
//
//	days     = ceil(hours / workday)
//	trip     = days * tripRate
//	labor    = hours * hourlyRate
//	min      = labor     + trip + material
//	max      = labor*1.3 + trip + material*1.2
//
// Materials are only priced when the customer has said they will NOT supply
// them.
package pricing

import (
	"fmt"
	"math"
	"strconv"

	"smider/broker-service/internal/model"
)

const (
	laborBuffer    = 1.3
	materialBuffer = 1.2
)

// LineKind classifies a line item.
type LineKind string

const (
	LineLabor     LineKind = "labor"
	LineTrip      LineKind = "trip"
	LineMaterial  LineKind = "material"
	LineSurcharge LineKind = "surcharge"
)

// LineItem is one row of the customer-facing breakdown.
type LineItem struct {
	Kind   LineKind `json:"kind"`
	Label  string   `json:"label"`
	Amount int      `json:"amount"`
}

// Estimate is the result of pricing a payload.
type Estimate struct {
	Category     model.Category `json:"category"`
	Rule         string         `json:"rule,omitempty"`
	Hours        float64        `json:"hours"`
	Days         int            `json:"days"`
	HourlyRate   int            `json:"hourlyRate"`
	TripFee      int            `json:"tripFee"`
	MaterialCost int            `json:"materialCost"`
	PriceMin     int            `json:"priceMin"`
	PriceMax     int            `json:"priceMax"`
	LineItems    []LineItem     `json:"lineItems"`
}

// Engine prices payloads against a rate card.
type Engine struct {
	card     RateCard
	profiles map[model.Category]profile
}

// NewEngine returns an Engine using card. Zero-valued card fields fall back
// to the defaults.
func NewEngine(card RateCard) *Engine {
	def := DefaultRateCard()
	if card.WorkdayHours <= 0 {
		card.WorkdayHours = def.WorkdayHours
	}
	if card.TripRate <= 0 {
		card.TripRate = def.TripRate
	}
	if card.HourlyRates == nil {
		card.HourlyRates = def.HourlyRates
	}
	if card.Materials == nil {
		card.Materials = def.Materials
	}
	return &Engine{card: card, profiles: profiles}
}

// Estimate prices p for category cat. It never fails: unknown categories
// yield a zero estimate and missing optional fields use category defaults.
func (e *Engine) Estimate(cat model.Category, p *model.Payload) Estimate {
	est := Estimate{Category: cat, LineItems: []LineItem{}}
	prof, ok := e.profiles[cat]
	if !ok {
		return est
	}
	if p == nil {
		p = &model.Payload{}
	}

	hours, ruleName := prof.estimateHours(p)
	if hours <= 0 {
		hours = 1
	}
	// Every figure derives from the hours the customer sees.
	hours = round1(hours)
	rate := e.card.HourlyRates[cat]

	days := int(math.Ceil(hours / e.card.WorkdayHours))
	tripFee := days * e.card.TripRate
	labor := hours * float64(rate)

	est.Rule = ruleName
	est.Hours = hours
	est.Days = days
	est.HourlyRate = rate
	est.TripFee = tripFee
	est.LineItems = append(est.LineItems,
		LineItem{
			Kind:   LineLabor,
			Label:  fmt.Sprintf("Arbeid (%st x %d kr)", formatQty(est.Hours), rate),
			Amount: int(math.Round(labor)),
		},
		LineItem{
			Kind:   LineTrip,
			Label:  fmt.Sprintf("Servicebil (%d %s)", days, pluralDays(days)),
			Amount: tripFee,
		},
	)

	var material float64
	if model.False(p.MaterialsByCustomer) {
		for _, m := range prof.materials {
			n := m.qty(p)
			price := e.card.Materials[m.key]
			if n <= 0 || price <= 0 {
				continue
			}
			cost := n * float64(price)
			material += cost
			est.LineItems = append(est.LineItems, LineItem{
				Kind:   LineMaterial,
				Label:  fmt.Sprintf("%s (%s %s x %d kr)", m.label, formatQty(n), m.unit, price),
				Amount: int(math.Round(cost)),
			})
		}
		for _, s := range prof.surcharges {
			price := e.card.Materials[s.key]
			if price <= 0 || !s.when(p) {
				continue
			}
			material += float64(price)
			est.LineItems = append(est.LineItems, LineItem{
				Kind:   LineSurcharge,
				Label:  s.label,
				Amount: price,
			})
		}
	}

	est.MaterialCost = int(math.Round(material))
	est.PriceMin = int(math.Round(labor + float64(tripFee) + material))
	est.PriceMax = int(math.Round(labor*laborBuffer + float64(tripFee) + material*materialBuffer))
	return est
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func formatQty(v float64) string {
	return strconv.FormatFloat(round1(v), 'f', -1, 64)
}

func pluralDays(n int) string {
	if n == 1 {
		return "dag"
	}
	return "dager"
}
