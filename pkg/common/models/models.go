package models

import (
	"time"

	"github.com/google/uuid"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// DLP & PII detection
type PHIDetectionResult struct {
	Detected    bool          `json:"detected"`
	Confidence  float64       `json:"confidence"`
	PHITypes    []string      `json:"phi_types"`
	Positions   []PHIPosition `json:"positions"`
	PIIKeys     []string      `json:"pii_keys,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

type PHIPosition struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Knowledge base
const (
	SourceOfficialProtocol = "OFFICIAL_PROTOCOL"
	SourceDrugLeaflet      = "DRUG_LEAFLET"
	SourceReference        = "REFERENCE"

	ValidityActive  = "ACTIVE"
	ValidityRetired = "RETIRED"
)

type KnowledgeItem struct {
	ID             uuid.UUID              `json:"id"`
	HospitalID     *uuid.UUID             `json:"hospital_id,omitempty"`
	Content        string                 `json:"content"`
	Embedding      []float32              `json:"-"`
	SourceType     string                 `json:"source_type"`
	SourceTitle    string                 `json:"source_title"`
	SourceID       string                 `json:"source_id"`
	VersionDate    *time.Time             `json:"version_date,omitempty"`
	ValidityStatus string                 `json:"validity_status"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

type ScoredItem struct {
	KnowledgeItem
	Similarity float64 `json:"similarity"`
}

// Clinical input, ephemeral. Only its sanitized projection is ever stored.
type ClinicalInput struct {
	Sintomas    string                 `json:"sintomas"`
	Diagnostico string                 `json:"diagnostico,omitempty"`
	Historico   map[string]interface{} `json:"historico,omitempty"`
}

// ToMap flattens the input into the raw context handed to the sanitizer.
func (in ClinicalInput) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(in.Historico)+2)
	for k, v := range in.Historico {
		out[k] = v
	}
	out["sintomas"] = in.Sintomas
	if in.Diagnostico != "" {
		out["diagnostico"] = in.Diagnostico
	}
	return out
}

// Generated prescription payload
type Medication struct {
	Nome           string `json:"nome" validate:"required"`
	PrincipioAtivo string `json:"principio_ativo" validate:"required"`
	Forma          string `json:"forma" validate:"required"`
	Concentracao   string `json:"concentracao" validate:"required"`
	Posologia      string `json:"posologia" validate:"required"`
	Via            string `json:"via" validate:"required"`
	Frequencia     string `json:"frequencia" validate:"required"`
	Duracao        string `json:"duracao" validate:"required"`
	Observacoes    string `json:"observacoes,omitempty"`
	Ajustes        string `json:"ajustes,omitempty"`
}

type SourceRef struct {
	SourceID        string  `json:"source_id" validate:"required"`
	SourceType      string  `json:"source_type" validate:"required"`
	Title           string  `json:"title"`
	ConfidenceScore float64 `json:"confidence_score" validate:"gte=0,lte=1"`
}

type PrescriptionDraft struct {
	ResumoTecnicoMedico   []string     `json:"resumo_tecnico_medico"`
	OrientacoesAoPaciente []string     `json:"orientacoes_ao_paciente"`
	Medicamentos          []Medication `json:"medicamentos" validate:"required,min=1,dive"`
	AlertasSeguranca      []string     `json:"alertas_seguranca"`
	Monitorizacao         []string     `json:"monitorizacao"`
	Fontes                []SourceRef  `json:"fontes" validate:"dive"`
	ConfidenceScore       float64      `json:"confidence_score"`
}

// Staff and tenants
const (
	RoleAdmin  = "ADMIN"
	RoleGestor = "GESTOR"
	RoleMedico = "MEDICO"
)

type Hospital struct {
	ID        uuid.UUID `json:"id"`
	Nome      string    `json:"nome"`
	CNPJ      string    `json:"cnpj,omitempty"`
	Ativo     bool      `json:"ativo"`
	CreatedAt time.Time `json:"created_at"`
}

type HospitalConfig struct {
	HospitalID        uuid.UUID `json:"hospital_id"`
	ModeloIA          string    `json:"modelo_ia,omitempty"`
	EstiloOrientacao  string    `json:"estilo_orientacao,omitempty"`
	AssinaturaRodape  string    `json:"assinatura_rodape,omitempty"`
	RetencaoDadosDias int       `json:"retencao_dados_dias"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type User struct {
	ID                    uuid.UUID  `json:"id"`
	HospitalID            *uuid.UUID `json:"hospital_id,omitempty"`
	Subject               string     `json:"subject"`
	Email                 string     `json:"email"`
	Nome                  string     `json:"nome"`
	Role                  string     `json:"role"`
	CRM                   string     `json:"crm,omitempty"`
	PodeVerTodosPacientes bool       `json:"pode_ver_todos_pacientes"`
	Ativo                 bool       `json:"ativo"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Patients and visits
type Paciente struct {
	ID                  uuid.UUID  `json:"id"`
	HospitalID          uuid.UUID  `json:"hospital_id"`
	NomeCompleto        string     `json:"nome_completo"`
	DataNascimento      *time.Time `json:"data_nascimento,omitempty"`
	CPF                 string     `json:"cpf,omitempty"`
	HistoricoAlergias   string     `json:"historico_alergias,omitempty"`
	MedicoResponsavelID *uuid.UUID `json:"medico_responsavel_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

const (
	ConsultaEmAndamento   = "EM_ANDAMENTO"
	ConsultaRascunhoSalvo = "RASCUNHO_SALVO"
	ConsultaEmRevisao     = "EM_REVISAO"
	ConsultaAssinada      = "ASSINADA"
	ConsultaArquivada     = "ARQUIVADA"

	ReceitaRascunho = "RASCUNHO"
	ReceitaAssinada = "ASSINADA"
)

type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Consulta struct {
	ID           uuid.UUID     `json:"id"`
	HospitalID   uuid.UUID     `json:"hospital_id"`
	PacienteID   uuid.UUID     `json:"paciente_id"`
	MedicoID     uuid.UUID     `json:"medico_id"`
	Sintomas     string        `json:"sintomas"`
	AnaliseIA    string        `json:"analise_ia"`
	Prescricao   string        `json:"prescricao"`
	Status       string        `json:"status"`
	ChatMessages []ChatMessage `json:"chat_messages"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type Receita struct {
	ID          uuid.UUID         `json:"id"`
	ConsultaID  uuid.UUID         `json:"consulta_id"`
	HospitalID  uuid.UUID         `json:"hospital_id"`
	Version     int               `json:"version"`
	Status      string            `json:"status"`
	JSONContent PrescriptionDraft `json:"json_content"`
	CreatedBy   uuid.UUID         `json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"`
	SignedAt    *time.Time        `json:"signed_at,omitempty"`
}

// Audit trail
const (
	ActionInputReceived          = "INPUT_RECEIVED"
	ActionAISuggestionGenerated  = "AI_SUGGESTION_GENERATED"
	ActionDoctorEdit             = "DOCTOR_EDIT"
	ActionManualOverride         = "MANUAL_OVERRIDE"
	ActionPrescriptionFinalized  = "PRESCRIPTION_FINALIZED"
	ActionPDFGenerated           = "PDF_GENERATED"
	ActionBreakGlassConfirmation = "BREAK_GLASS_CONFIRMATION"
)

type AuditLog struct {
	ID                   uuid.UUID              `json:"id"`
	HospitalID           uuid.UUID              `json:"hospital_id"`
	UserID               uuid.UUID              `json:"user_id"`
	Action               string                 `json:"action"`
	Timestamp            time.Time              `json:"timestamp"`
	ConsultaID           *uuid.UUID             `json:"consulta_id,omitempty"`
	ReceitaID            *uuid.UUID             `json:"receita_id,omitempty"`
	InputData            map[string]interface{} `json:"input_data,omitempty"`
	AISuggestion         map[string]interface{} `json:"ai_suggestion,omitempty"`
	SourceIDsUsed        []string               `json:"source_ids_used,omitempty"`
	ConfidenceScore      *float64               `json:"confidence_score,omitempty"`
	ModeloIA             string                 `json:"modelo_ia,omitempty"`
	PromptVersion        string                 `json:"prompt_version,omitempty"`
	DoctorEdit           map[string]interface{} `json:"doctor_edit,omitempty"`
	ManualOverrideReason string                 `json:"manual_override_reason,omitempty"`
	BreakGlassConfirmed  bool                   `json:"break_glass_confirmed"`
	FinalPrescription    map[string]interface{} `json:"final_prescription,omitempty"`
	PDFHash              string                 `json:"pdf_hash,omitempty"`
	PDFGeneratedAt       *time.Time             `json:"pdf_generated_at,omitempty"`
	SessionID            string                 `json:"session_id,omitempty"`
	IPAddress            string                 `json:"ip_address,omitempty"`
	UserAgent            string                 `json:"user_agent,omitempty"`
	LGPDCompliant        bool                   `json:"lgpd_compliant"`
	ANVISACompliant      bool                   `json:"anvisa_compliant"`
}

// Request metadata attached to audit entries
type RequestMeta struct {
	IPAddress string
	UserAgent string
	SessionID string
}

// API requests
type PrescribeRequest struct {
	Symptoms  string                 `json:"symptoms" validate:"required"`
	Diagnosis string                 `json:"diagnosis,omitempty"`
	Historico map[string]interface{} `json:"historico,omitempty"`
}

type CreatePacienteRequest struct {
	NomeCompleto        string     `json:"nome_completo" validate:"required"`
	DataNascimento      *time.Time `json:"data_nascimento,omitempty"`
	CPF                 string     `json:"cpf,omitempty"`
	HistoricoAlergias   string     `json:"historico_alergias,omitempty"`
	MedicoResponsavelID *uuid.UUID `json:"medico_responsavel_id,omitempty"`
}

type StartConsultaRequest struct {
	PacienteID uuid.UUID `json:"paciente_id" validate:"required"`
}

const (
	AcaoGerarIA           = "gerar_ia"
	AcaoSalvarEdicao      = "salvar_edicao"
	AcaoEditarMedicamento = "editar_medicamento"
	AcaoAvancarRevisao    = "avancar_revisao"
	AcaoAssinarRevisao    = "assinar_revisao"
	AcaoFinalizarReceita  = "finalizar_receita"
	AcaoArquivar          = "arquivar"
)

type WorkflowActionRequest struct {
	Acao       string    `json:"acao" validate:"required"`
	ConsultaID uuid.UUID `json:"consulta_id" validate:"required"`

	// gerar_ia
	Sintomas    string                 `json:"sintomas,omitempty"`
	Diagnostico string                 `json:"diagnostico,omitempty"`
	Historico   map[string]interface{} `json:"historico,omitempty"`

	// salvar_edicao
	Prescricao string `json:"prescricao,omitempty"`

	// editar_medicamento
	MedicamentoIndex *int   `json:"medicamento_index,omitempty"`
	Campo            string `json:"campo,omitempty"`
	Valor            string `json:"valor,omitempty"`

	// assinar_revisao / finalizar_receita
	Confirmacoes         []bool `json:"confirmacoes,omitempty"`
	ManualOverrideReason string `json:"manual_override_reason,omitempty"`

	Motivo string `json:"motivo,omitempty"`
}

type WorkflowActionResponse struct {
	Consulta Consulta `json:"consulta"`
	Receita  *Receita `json:"receita,omitempty"`
}

type MedicationEdit struct {
	Index  int
	Campo  string
	Valor  string
	Motivo string
}
