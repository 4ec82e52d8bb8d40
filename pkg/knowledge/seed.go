package knowledge

import "github.com/prescritto-ai/platform/pkg/common/models"

// SeedDocuments is the starter base loaded by "prescritto-admin knowledge seed".
func SeedDocuments() []Document {
	return []Document{
		{
			Content: "Amoxicilina 500mg - Antibiótico de amplo espectro da classe das penicilinas. " +
				"Indicado para tratamento de infecções bacterianas do trato respiratório, " +
				"infecções do trato urinário, infecções de pele e tecidos moles. " +
				"Posologia: Adultos: 500mg a cada 8 horas por 7-10 dias. " +
				"Crianças: 25-50mg/kg/dia dividido em 3 doses. " +
				"Contraindicações: Hipersensibilidade a penicilinas. " +
				"Efeitos adversos: Diarreia, náusea, erupções cutâneas. " +
				"Interações: Pode reduzir eficácia de anticoncepcionais orais.",
			SourceType:  models.SourceDrugLeaflet,
			SourceTitle: "Bula - Amoxicilina 500mg",
			SourceID:    "bula_amoxicilina_500mg_001",
			VersionDate: "2024-01-15",
			Metadata: map[string]interface{}{
				"tier":               3,
				"medication_name":    "Amoxicilina",
				"dosage":             "500mg",
				"pregnancy_category": "B",
			},
		},
		{
			Content: "Protocolo Clínico e Diretrizes Terapêuticas (PCDT) - Amigdalite Bacteriana. " +
				"Diagnóstico: Clínico baseado em sinais e sintomas (dor de garganta, febre, " +
				"adenomegalia cervical, exsudato purulento). Teste rápido de estreptococo quando disponível. " +
				"Tratamento de primeira linha: Amoxicilina 500mg a cada 8 horas por 10 dias. " +
				"Alternativa em caso de alergia à penicilina: Azitromicina 500mg 1x/dia por 5 dias. " +
				"Critérios de melhora: Redução da febre e dor em 48-72h. " +
				"Critérios de encaminhamento: Falha terapêutica, complicações, recidivas frequentes.",
			SourceType:  models.SourceOfficialProtocol,
			SourceTitle: "PCDT - Amigdalite Bacteriana",
			SourceID:    "pcdt_amigdalite_001",
			VersionDate: "2024-03-01",
			Metadata: map[string]interface{}{
				"tier":      1,
				"condition": "Amigdalite Bacteriana",
			},
		},
		{
			Content: "Dipirona (metamizol). Indicações: analgésico e antipirético, usada para dor de cabeça, " +
				"dor no corpo e febre. Posologia: adultos 500mg a 1g a cada 6 horas. " +
				"Contraindicações: gravidez, amamentação, alergia a dipirona, bebês menores de 3 meses, " +
				"deficiência de G6PD. Efeitos colaterais: queda de pressão, reações alérgicas; raro: agranulocitose. " +
				"Advertências: não usar em caso de alergia a AAS ou anti-inflamatórios.",
			SourceType:  models.SourceDrugLeaflet,
			SourceTitle: "Bula - Dipirona Monohidratada",
			SourceID:    "bula_dipirona_001",
			Metadata: map[string]interface{}{
				"tier":            3,
				"medication_name": "Dipirona",
			},
		},
	}
}
