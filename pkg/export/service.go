package export

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/audit"
	"github.com/prescritto-ai/platform/pkg/clinical"
	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/observability/metrics"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"github.com/sirupsen/logrus"
)

// ConfigSource supplies the hospital's footer text. identity.Service satisfies it.
type ConfigSource interface {
	HospitalConfig(ctx context.Context, scope tenant.Scope) (models.HospitalConfig, error)
}

type Document struct {
	ConsultaID uuid.UUID
	ReceitaID  uuid.UUID
	Bytes      []byte
	Hash       string
}

func (d Document) Filename() string {
	return "receita-" + d.ConsultaID.String() + ".pdf"
}

type Service struct {
	clinical *clinical.Service
	configs  ConfigSource
	recorder *audit.Recorder
	now      func() time.Time
}

func NewService(clinicalService *clinical.Service, configs ConfigSource, recorder *audit.Recorder) *Service {
	return &Service{clinical: clinicalService, configs: configs, recorder: recorder, now: time.Now}
}

// Export renders the signed receita of a consulta and records PDF_GENERATED with the document hash.
func (s *Service) Export(ctx context.Context, scope tenant.Scope, meta models.RequestMeta, consultaID uuid.UUID) (Document, error) {
	consulta, receita, err := s.clinical.LatestReceita(ctx, scope, consultaID)
	if err != nil {
		return Document{}, err
	}
	if consulta.Status != models.ConsultaAssinada {
		return Document{}, &NotSignedError{Status: consulta.Status}
	}
	paciente, err := s.clinical.GetPaciente(ctx, scope, consulta.PacienteID)
	if err != nil {
		return Document{}, err
	}

	var cfg models.HospitalConfig
	if s.configs != nil {
		if cfg, err = s.configs.HospitalConfig(ctx, scope); err != nil {
			logger.Log.WithError(err).WithField("hospital_id", scope.HospitalID).Warn("hospital config unavailable; using default footer")
			cfg = models.HospitalConfig{}
		}
	}

	payload, err := BuildPayload(paciente, receita, cfg)
	if err != nil {
		return Document{}, err
	}
	doc, err := Render(payload)
	if err != nil {
		return Document{}, err
	}

	hash := Hash(doc)
	generatedAt := s.now().UTC()
	if _, err := s.recorder.Record(ctx, scope, meta, models.AuditLog{
		Action:         models.ActionPDFGenerated,
		ConsultaID:     &consulta.ID,
		ReceitaID:      &receita.ID,
		PDFHash:        hash,
		PDFGeneratedAt: &generatedAt,
	}); err != nil {
		return Document{}, err
	}
	metrics.PDFsGenerated.Inc()

	logger.Log.WithFields(logrus.Fields{
		"consulta_id": consulta.ID,
		"receita_id":  receita.ID,
		"pdf_hash":    hash,
	}).Info("prescription pdf generated")

	return Document{ConsultaID: consulta.ID, ReceitaID: receita.ID, Bytes: doc, Hash: hash}, nil
}
