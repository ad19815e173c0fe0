package docgen

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jung-kurt/gofpdf"

	appErrors "github.com/noah-isme/homegroup-report-api/pkg/errors"
)

// Assembler renders generated narratives into a single multi-section PDF
// document, one titled section per narrative in input order, each section
// starting on its own page.
type Assembler struct {
	outputDir string
}

// NewAssembler ensures the output directory exists and returns a handle.
func NewAssembler(outputDir string) (*Assembler, error) {
	if outputDir == "" {
		outputDir = filepath.Join(os.TempDir(), "reports")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrAssembly.Code, appErrors.ErrAssembly.Status, "failed to create output directory")
	}
	return &Assembler{outputDir: outputDir}, nil
}

// Assemble writes the document and returns its path. The filename carries a
// generation timestamp so concurrent runs by different users never collide.
func (a *Assembler) Assemble(narratives []string) (string, error) {
	if len(narratives) == 0 {
		return "", appErrors.Clone(appErrors.ErrAssembly, "no narratives to assemble")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)

	for i, narrative := range narratives {
		pdf.AddPage()
		pdf.SetFont("Arial", "B", 16)
		pdf.CellFormat(0, 10, SectionTitle(i+1), "", 1, "L", false, 0, "")
		pdf.Ln(4)
		pdf.SetFont("Arial", "", 11)
		pdf.MultiCell(0, 6, narrative, "", "L", false)
	}

	filename := fmt.Sprintf("student_reports_%s.pdf", time.Now().Format("20060102_150405"))
	outputPath := filepath.Join(a.outputDir, filename)
	if err := pdf.OutputFileAndClose(outputPath); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrAssembly.Code, appErrors.ErrAssembly.Status, "failed to write document")
	}
	return outputPath, nil
}

// SectionTitle returns the heading for the nth (1-based) report section.
func SectionTitle(n int) string {
	return fmt.Sprintf("Student Report %d", n)
}
