// Package rag runs the prescription pipeline: sanitize, embed, retrieve, generate.
package rag

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/common/tracing"
	"github.com/prescritto-ai/platform/pkg/dlp"
	"github.com/prescritto-ai/platform/pkg/embedding"
	"github.com/prescritto-ai/platform/pkg/generator"
	"github.com/prescritto-ai/platform/pkg/knowledge"
	"github.com/prescritto-ai/platform/pkg/observability/metrics"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const MinSymptomsLength = 10

// InputError rejects a request before any external call is made.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string { return e.Field + ": " + e.Message }

func (e *InputError) HTTPStatus() int { return http.StatusBadRequest }

func (e *InputError) PublicMessage() string { return e.Message }

// ConfigSource supplies per-hospital generation settings. identity.Service satisfies it.
type ConfigSource interface {
	HospitalConfig(ctx context.Context, scope tenant.Scope) (models.HospitalConfig, error)
}

type Options struct {
	DefaultModel  string
	PromptVersion string
}

type Service struct {
	detector  *dlp.Detector
	embedder  embedding.Embedder
	retriever *knowledge.Retriever
	generator *generator.Generator
	configs   ConfigSource
	opts      Options
	tracer    trace.Tracer
}

func NewService(detector *dlp.Detector, embedder embedding.Embedder, retriever *knowledge.Retriever, gen *generator.Generator, configs ConfigSource, opts Options) *Service {
	return &Service{
		detector:  detector,
		embedder:  embedder,
		retriever: retriever,
		generator: gen,
		configs:   configs,
		opts:      opts,
		tracer:    tracing.Tracer(),
	}
}

type Result struct {
	Draft         *models.PrescriptionDraft
	Sanitized     dlp.Sanitized
	Sources       []models.ScoredItem
	Model         string
	PromptVersion string
}

// SourceIDs lists the identifiers of the documents that grounded the draft.
func (r *Result) SourceIDs() []string {
	ids := make([]string, 0, len(r.Draft.Fontes))
	for _, f := range r.Draft.Fontes {
		ids = append(ids, f.SourceID)
	}
	return ids
}

func ValidateInput(input models.ClinicalInput) error {
	if utf8.RuneCountInString(strings.TrimSpace(input.Sintomas)) < MinSymptomsLength {
		return &InputError{Field: "sintomas", Message: "Descreva os sintomas com pelo menos 10 caracteres."}
	}
	return nil
}

// Prescribe validates and sanitizes the input, then runs retrieval and generation.
func (s *Service) Prescribe(ctx context.Context, scope tenant.Scope, input models.ClinicalInput) (*Result, error) {
	if err := ValidateInput(input); err != nil {
		return nil, err
	}
	if err := scope.Valid(); err != nil {
		return nil, err
	}

	_, span := s.tracer.Start(ctx, "rag.sanitize")
	sanitized := s.detector.SanitizeContext(input.ToMap())
	span.End()

	return s.Run(ctx, scope, sanitized)
}

// Run executes the pipeline on an already sanitized context.
func (s *Service) Run(ctx context.Context, scope tenant.Scope, sanitized dlp.Sanitized) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "rag.prescribe", trace.WithAttributes(
		attribute.String("hospital_id", scope.HospitalID.String()),
	))
	defer span.End()

	log := logger.Log.WithFields(logrus.Fields{
		"hospital_id": scope.HospitalID,
		"user_id":     scope.UserID,
	})

	query := strings.TrimSpace(sanitized.Text("sintomas") + " " + sanitized.Text("diagnostico"))
	vector, err := s.embed(ctx, query)
	if err != nil {
		metrics.EmbeddingFailures.Inc()
		fail(span, err)
		return nil, err
	}

	docs, err := s.retrieve(ctx, scope, vector)
	if err != nil {
		if errors.Is(err, knowledge.ErrInsufficientContext) {
			metrics.RetrievalEmpty.Inc()
		}
		fail(span, err)
		return nil, err
	}

	opts := generator.Options{Model: s.opts.DefaultModel}
	if s.configs != nil {
		cfg, err := s.configs.HospitalConfig(ctx, scope)
		if err != nil {
			log.WithError(err).Warn("hospital config unavailable; using defaults")
		} else {
			if cfg.ModeloIA != "" {
				opts.Model = cfg.ModeloIA
			}
			opts.EstiloOrientacao = cfg.EstiloOrientacao
		}
	}

	genCtx, genSpan := s.tracer.Start(ctx, "rag.generate", trace.WithAttributes(attribute.String("model", opts.Model)))
	draft, err := s.generator.Generate(genCtx, sanitized, docs, opts)
	if err != nil {
		metrics.GenerationFailures.WithLabelValues(failureReason(err)).Inc()
		fail(genSpan, err)
		genSpan.End()
		fail(span, err)
		return nil, err
	}
	genSpan.End()
	metrics.DraftsGenerated.Inc()

	log.WithFields(logrus.Fields{
		"sources":    len(docs),
		"confidence": draft.ConfidenceScore,
		"model":      opts.Model,
	}).Info("prescription draft generated")

	return &Result{
		Draft:         draft,
		Sanitized:     sanitized,
		Sources:       docs,
		Model:         opts.Model,
		PromptVersion: s.opts.PromptVersion,
	}, nil
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := s.tracer.Start(ctx, "rag.embed")
	defer span.End()

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		var embErr *embedding.Error
		if !errors.As(err, &embErr) {
			err = &embedding.Error{Op: "call", Err: err}
		}
		return nil, err
	}
	return vector, nil
}

func (s *Service) retrieve(ctx context.Context, scope tenant.Scope, vector []float32) ([]models.ScoredItem, error) {
	ctx, span := s.tracer.Start(ctx, "rag.retrieve", trace.WithAttributes(attribute.String("policy", s.retriever.Policy())))
	defer span.End()

	docs, err := s.retriever.Retrieve(ctx, scope, vector)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(docs)))
	return docs, nil
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func failureReason(err error) string {
	var genErr *generator.Error
	if errors.As(err, &genErr) && genErr.Unavailable {
		return "unavailable"
	}
	return "invalid_output"
}
