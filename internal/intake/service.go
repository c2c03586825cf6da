package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"smider/broker-service/internal/extract"
	"smider/broker-service/internal/model"
	"smider/broker-service/internal/pricing"
)

// ErrExtractionFailed wraps transport failures of the extraction service.
var ErrExtractionFailed = errors.New("extraction service unavailable")

// TurnResult is the response to one conversation turn.
type TurnResult struct {
	Done          bool              `json:"done"`
	Message       string            `json:"message"`
	MissingFields []string          `json:"missingFields,omitempty"`
	Unsupported   bool              `json:"unsupported,omitempty"`
	Category      model.Category    `json:"category,omitempty"`
	Payload       *model.Payload    `json:"payload,omitempty"`
	Estimate      *pricing.Estimate `json:"estimate,omitempty"`
}

// Service runs a conversation turn through extraction, slot filling and,
// once complete, pricing.
type Service struct {
	extractor  extract.Extractor
	controller *Controller
	engine     *pricing.Engine
}

func NewService(ex extract.Extractor, ctrl *Controller, engine *pricing.Engine) *Service {
	return &Service{extractor: ex, controller: ctrl, engine: engine}
}

// Controller exposes the slot-filling tables so job creation can re-check
// completeness server-side.
func (s *Service) Controller() *Controller { return s.controller }

// SubmitTurn processes the whole conversation so far. An unsupported category
// ends intake with a refusal message and Unsupported set.
func (s *Service) SubmitTurn(ctx context.Context, history []extract.Turn) (*TurnResult, error) {
	raw, err := s.extractor.Extract(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	p, dropped := extract.Decode(raw)
	if len(dropped) > 0 {
		slog.Warn("intake: dropped malformed fields", "fields", dropped)
	}

	if p.UserQuestion != nil && p.Category == nil {
		return &TurnResult{Message: AnswerUserQuestion(*p.UserQuestion), Payload: p}, nil
	}
	if p.Category == nil {
		return &TurnResult{
			Message:       s.controller.Question(FieldCategory),
			MissingFields: []string{FieldCategory},
			Payload:       p,
		}, nil
	}

	cat, err := model.ParseCategory(*p.Category)
	if err != nil {
		slog.Info("intake: unsupported category", "category", *p.Category)
		return &TurnResult{Message: MsgCategoryUnsupported, Unsupported: true, Payload: p}, nil
	}
	canonical := string(cat)
	p.Category = &canonical

	d, err := s.controller.Next(cat, p)
	if err != nil {
		return nil, err
	}

	res := &TurnResult{
		Done:          d.Done,
		MissingFields: d.MissingFields,
		Category:      cat,
		Payload:       p,
	}
	switch {
	case d.Answer != "":
		res.Message = d.Answer
	case !d.Done:
		res.Message = d.Question
	default:
		est := s.engine.Estimate(cat, p)
		res.Estimate = &est
		res.Message = MsgEstimateReady
	}
	return res, nil
}
