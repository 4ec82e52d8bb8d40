package export

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
)

const defaultFooter = "Documento gerado eletronicamente via Prescritto."

// Render lays the payload out on A4 pages.
func Render(p Payload) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Receita", true)
	pdf.SetCreator("Prescritto", true)
	pdf.SetCreationDate(p.AssinadaEm)
	pdf.SetMargins(18, 18, 18)
	pdf.SetAutoPageBreak(true, 22)

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	footer := p.Rodape
	if footer == "" {
		footer = defaultFooter
	}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-16)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(110, 110, 110)
		pdf.CellFormat(0, 5, tr(footer), "", 1, "C", false, 0, "")
		pdf.CellFormat(0, 5, tr("Assinada em "+p.AssinadaEm.Format("02/01/2006 15:04")+" UTC"), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 10, "Prescritto", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, tr("Paciente: "+p.PacienteNome), "", 1, "L", false, 0, "")
	x, y := pdf.GetXY()
	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	pdf.Line(x, y+1, pageW-right, y+1)
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, tr("Prescrição:"), "", 1, "L", false, 0, "")
	for i, item := range p.Medicamentos {
		pdf.SetFont("Helvetica", "", 12)
		pdf.SetTextColor(0, 0, 0)
		pdf.SetX(left + 4)
		pdf.MultiCell(0, 6, tr(fmt.Sprintf("%d. %s - %s", i+1, item.Nome, item.Dosagem)), "", "L", false)
		if item.Uso != "" {
			pdf.SetFont("Helvetica", "I", 10)
			pdf.SetTextColor(90, 90, 90)
			pdf.SetX(left + 10)
			pdf.MultiCell(0, 5, tr("Uso: "+item.Uso), "", "L", false)
		}
		pdf.Ln(3)
	}

	if obs := strings.TrimSpace(p.Observacoes); obs != "" {
		pdf.Ln(4)
		pdf.SetTextColor(0, 0, 0)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 7, tr("Observações Clínicas:"), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.SetX(left + 4)
		pdf.MultiCell(0, 5.5, tr(obs), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// Hash is the lowercase hex SHA-256 recorded on PDF_GENERATED entries.
func Hash(doc []byte) string {
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:])
}
