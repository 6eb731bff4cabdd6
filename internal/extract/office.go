package extract

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	goexcel "github.com/VantageDataChat/GoExcel"
	goppt "github.com/VantageDataChat/GoPPT"
	goword "github.com/VantageDataChat/GoWord"

	lenserrors "github.com/loclens/loclens/internal/errors"
)

// Office extracts text from a Word, Excel, or PowerPoint file, dispatching
// on the extension.
func Office(path string) (result *Result, err error) {
	// The OOXML parsers panic on malformed archives
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = lenserrors.New(lenserrors.ErrCodeFileCorrupt,
				fmt.Sprintf("office document parse panic: %v", r), nil)
		}
	}()

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, lenserrors.FileError("file not found: "+path, readErr)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		return officeWord(path, data)
	case ".xlsx":
		return officeExcel(path, data)
	case ".pptx":
		return officePowerPoint(path, data)
	default:
		return nil, lenserrors.New(lenserrors.ErrCodeUnsupportedMedia,
			"unsupported office format: "+filepath.Ext(path), nil)
	}
}

func officeWord(path string, data []byte) (*Result, error) {
	doc, err := goword.OpenFromBytes(data)
	if err != nil {
		return nil, lenserrors.New(lenserrors.ErrCodeExtractionFailed,
			"failed to open Word document: "+path, err)
	}

	text := doc.ExtractText()

	slog.Info("extracted Word text",
		slog.String("path", path),
		slog.Int("chars", len(text)))

	return &Result{
		Text:   text,
		Title:  doc.Properties.Title,
		Method: MethodText,
	}, nil
}

func officeExcel(path string, data []byte) (*Result, error) {
	reader := goexcel.NewXLSXReader()
	wb, err := reader.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, lenserrors.New(lenserrors.ErrCodeExtractionFailed,
			"failed to open Excel workbook: "+path, err)
	}

	var parts []string
	sheetNames := wb.GetSheetNames()
	for _, name := range sheetNames {
		sheet, err := wb.GetSheetByName(name)
		if err != nil {
			continue
		}
		rows, err := sheet.RowIterator()
		if err != nil {
			continue
		}

		sheetLines := []string{"[Sheet: " + name + "]"}
		for _, row := range rows {
			var values []string
			for _, cell := range row {
				if cell == nil || cell.IsEmpty() {
					continue
				}
				if val := cell.GetFormattedValue(); val != "" {
					values = append(values, val)
				}
			}
			if len(values) > 0 {
				sheetLines = append(sheetLines, strings.Join(values, " | "))
			}
		}

		// Skip sheets that only produced the header line
		if len(sheetLines) > 1 {
			parts = append(parts, strings.Join(sheetLines, "\n"))
		}
	}

	slog.Info("extracted Excel text",
		slog.String("path", path),
		slog.Int("sheets", len(sheetNames)))

	return &Result{
		Text:       strings.Join(parts, "\n\n"),
		SheetCount: len(sheetNames),
		Method:     MethodText,
	}, nil
}

func officePowerPoint(path string, data []byte) (*Result, error) {
	pres, err := goppt.ReadFrom(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, lenserrors.New(lenserrors.ErrCodeExtractionFailed,
			"failed to open PowerPoint presentation: "+path, err)
	}
	defer pres.Close()

	slides := pres.Slides()
	var parts []string
	for i, slide := range slides {
		text := strings.TrimSpace(slide.ExtractText())
		if text != "" {
			parts = append(parts, fmt.Sprintf("[Slide %d]\n%s", i+1, text))
		}
	}

	slog.Info("extracted PowerPoint text",
		slog.String("path", path),
		slog.Int("slides", len(slides)))

	return &Result{
		Text:       strings.Join(parts, "\n\n"),
		SlideCount: len(slides),
		Method:     MethodText,
	}, nil
}
