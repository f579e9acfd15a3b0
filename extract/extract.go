// Package extract turns file bytes into text for the read_file tool.
package extract

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/m4xw311/codoc/errors"
	"github.com/xuri/excelize/v2"
)

const (
	TypeText = "text/plain"
	TypePDF  = "application/pdf"
	TypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	TypeXLS  = "application/vnd.ms-excel"
)

// File is a named blob with a MIME type.
type File struct {
	Name string
	Type string
	Data []byte
}

// Handler extracts text from one MIME type.
type Handler func(f File) (string, error)

// Extractor dispatches on MIME type.
type Extractor struct {
	handlers map[string]Handler
}

// New returns an extractor with the plain text, PDF and spreadsheet handlers.
func New() *Extractor {
	e := &Extractor{handlers: make(map[string]Handler)}
	e.Register(TypeText, extractText)
	e.Register(TypePDF, extractPDF)
	e.Register(TypeXLSX, extractSpreadsheet)
	e.Register(TypeXLS, rejectLegacySpreadsheet)
	return e
}

// Register installs h for mimeType, replacing any existing handler.
func (e *Extractor) Register(mimeType string, h Handler) {
	e.handlers[mimeType] = h
}

// TypeOf guesses the MIME type from the file extension. Anything not known to
// be binary is treated as plain text.
func TypeOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return TypePDF
	case ".xlsx":
		return TypeXLSX
	case ".xls":
		return TypeXLS
	default:
		return TypeText
	}
}

// Extract returns the text content of f.
func (e *Extractor) Extract(f File) (string, error) {
	h, ok := e.handlers[f.Type]
	if !ok {
		return "", errors.New("no handler for file type: %s", f.Type)
	}
	return h(f)
}

// extractText decodes f as UTF-8. Invalid bytes become U+FFFD.
func extractText(f File) (string, error) {
	return strings.ToValidUTF8(string(f.Data), string(utf8.RuneError)), nil
}

func rejectLegacySpreadsheet(f File) (string, error) {
	return "", errors.Wrapf(errors.ErrUnsupportedFileType,
		"legacy .xls spreadsheets are not supported, save %s as .xlsx", f.Name)
}

func extractPDF(f File) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(f.Data), int64(len(f.Data)))
	if err != nil {
		return "", errors.Wrapf(err, "could not parse PDF %s", f.Name)
	}
	text, err := r.GetPlainText()
	if err != nil {
		return "", errors.Wrapf(err, "could not extract text from %s", f.Name)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, text); err != nil {
		return "", errors.Wrapf(err, "could not read text from %s", f.Name)
	}
	return buf.String(), nil
}

// extractSpreadsheet renders every sheet as a JSON array of rows.
func extractSpreadsheet(f File) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(f.Data))
	if err != nil {
		return "", errors.Wrapf(err, "could not open spreadsheet %s", f.Name)
	}
	defer book.Close()

	sheets := [][][]string{}
	for _, name := range book.GetSheetList() {
		rows, err := book.GetRows(name)
		if err != nil {
			return "", errors.Wrapf(err, "could not read sheet %s", name)
		}
		if rows == nil {
			rows = [][]string{}
		}
		sheets = append(sheets, rows)
	}
	out, err := json.Marshal(sheets)
	if err != nil {
		return "", errors.Wrapf(err, "could not encode spreadsheet %s", f.Name)
	}
	return string(out), nil
}
