package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// InitExtractor registers the UniPDF license key. Without it PDF
// publishing fails; plain-text publishing keeps working.
func InitExtractor(licenseKey string) error {
	if licenseKey == "" {
		return nil
	}
	return license.SetMeteredKey(licenseKey)
}

// ExtractTextFromFile reads a dataset file and returns its text
// content. It automatically handles different file types.
func ExtractTextFromFile(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".txt", ".md":
		content, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(content), nil
	case ".pdf":
		return extractTextFromPDF(path)
	default:
		return "", fmt.Errorf("unsupported file type: %s", ext)
	}
}

// extractTextFromPDF pulls the text of every page via UniPDF. Pages
// are joined with blank lines so each page lands on a chunk boundary.
func extractTextFromPDF(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("could not open pdf: %w", err)
	}
	defer f.Close()

	pdfReader, err := model.NewPdfReader(f)
	if err != nil {
		return "", fmt.Errorf("could not parse pdf: %w", err)
	}
	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("could not read pdf page count: %w", err)
	}

	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		text, err := extractPageText(pdfReader, i)
		if err != nil {
			return "", fmt.Errorf("could not extract text from page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n\n"), nil
}

func extractPageText(pdfReader *model.PdfReader, pageNum int) (string, error) {
	page, err := pdfReader.GetPage(pageNum)
	if err != nil {
		return "", err
	}
	ex, err := extractor.New(page)
	if err != nil {
		return "", err
	}
	return ex.ExtractText()
}
