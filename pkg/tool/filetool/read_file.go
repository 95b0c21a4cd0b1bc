// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package filetool

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/loopwright/agentcore/pkg/tool"
	"github.com/loopwright/agentcore/pkg/tool/functiontool"
)

// Rich-file read hard limits. The tool refuses to parse a file past these
// rather than silently truncating, and points the model at a smaller range.
const (
	richDocumentMaxSize = 50 * 1024 * 1024 // PDF/DOCX/XLSX/notebook
	richImageMaxSize    = 20 * 1024 * 1024 // base64 image encoding
	richPDFMaxPages     = 20               // pages per request

	xlsxMaxSheets  = 5
	xlsxMaxRows    = 100
	xlsxMaxColumns = 50
)

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

// ReadFileArgs defines the parameters for reading a file.
type ReadFileArgs struct {
	Path        string `json:"path" jsonschema:"required,description=File path to read (relative to working directory)"`
	StartLine   int    `json:"start_line,omitempty" jsonschema:"description=Starting line number (1-indexed); for PDF this selects the starting page,minimum=1"`
	EndLine     int    `json:"end_line,omitempty" jsonschema:"description=Ending line number (inclusive); for PDF this selects the ending page,minimum=1"`
	LineNumbers bool   `json:"line_numbers,omitempty" jsonschema:"description=Include line numbers in output,default=true"`
}

// ReadFileConfig defines configuration for the read_file tool.
type ReadFileConfig struct {
	MaxFileSize      int64
	WorkingDirectory string
}

// NewReadFile creates a new read_file tool using FunctionTool.
func NewReadFile(cfg *ReadFileConfig) (tool.CallableTool, error) {
	if cfg == nil {
		cfg = &ReadFileConfig{
			MaxFileSize:      10485760, // 10MB default
			WorkingDirectory: "./",
		}
	}

	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 10485760
	}
	if cfg.WorkingDirectory == "" {
		cfg.WorkingDirectory = "./"
	}

	return functiontool.NewWithValidation(
		functiontool.Config{
			Name:        "read_file",
			Description: "Read the contents of a file with optional line numbers and range selection. Use to understand code structure and context before making edits. Also parses PDF (page range via start_line/end_line), DOCX, XLSX (as markdown tables), Jupyter notebooks, and returns image metadata with a base64 body when small enough.",
		},
		func(ctx tool.Context, args ReadFileArgs) (map[string]any, error) {
			return readFileImpl(cfg, args)
		},
		func(args ReadFileArgs) error {
			return validatePath(cfg.WorkingDirectory, args.Path)
		},
	)
}

func readFileImpl(cfg *ReadFileConfig, args ReadFileArgs) (map[string]any, error) {
	fullPath := filepath.Join(cfg.WorkingDirectory, args.Path)

	// Check file info
	fileInfo, err := os.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(args.Path))

	if mimeType, ok := imageExtensions[ext]; ok {
		return readImage(args.Path, fullPath, mimeType, fileInfo)
	}

	switch ext {
	case ".pdf":
		return readPDF(args, fullPath, fileInfo)
	case ".docx":
		return readDOCX(args.Path, fullPath, fileInfo)
	case ".xlsx":
		return readXLSX(args.Path, fullPath, fileInfo)
	case ".ipynb":
		return readNotebook(args.Path, fullPath, fileInfo)
	}

	if fileInfo.Size() > cfg.MaxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max: %d)", fileInfo.Size(), cfg.MaxFileSize)
	}

	// Read file content
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	lines := strings.Split(string(content), "\n")
	totalLines := len(lines)

	// Determine line range
	startLine := 1
	if args.StartLine > 0 {
		startLine = args.StartLine
		if startLine > totalLines {
			return nil, fmt.Errorf("start_line (%d) exceeds file length (%d lines)", startLine, totalLines)
		}
	}

	endLine := totalLines
	if args.EndLine > 0 {
		endLine = args.EndLine
		if endLine > totalLines {
			endLine = totalLines
		}
	}

	if startLine > endLine {
		return nil, fmt.Errorf("invalid range: start_line (%d) > end_line (%d)", startLine, endLine)
	}

	// Default line_numbers to true per schema default and legacy behavior
	showLineNumbers := true
	// If LineNumbers is explicitly set to false, honor that
	// Note: We can't distinguish unset from false in Go, but schema default is true
	// So we default to true and only use false if explicitly set
	// Only allow false when a range is specified (legacy behavior)
	if !args.LineNumbers && (args.StartLine > 0 || args.EndLine > 0) {
		// Explicitly set to false with a range - honor that
		showLineNumbers = false
	}

	// Build output
	var output strings.Builder
	output.WriteString(fmt.Sprintf("FILE: %s\n", args.Path))
	output.WriteString(fmt.Sprintf("STATS: Total lines: %d", totalLines))

	if startLine != 1 || endLine != totalLines {
		output.WriteString(fmt.Sprintf(" | Showing lines %d-%d", startLine, endLine))
	}
	output.WriteString("\n")
	output.WriteString(strings.Repeat("─", 60) + "\n")

	for i := startLine - 1; i < endLine && i < len(lines); i++ {
		if showLineNumbers {
			output.WriteString(fmt.Sprintf("%6d| %s\n", i+1, lines[i]))
		} else {
			output.WriteString(fmt.Sprintf("%s\n", lines[i]))
		}
	}

	output.WriteString(strings.Repeat("─", 60))

	return map[string]any{
		"content":      output.String(),
		"path":         args.Path,
		"total_lines":  totalLines,
		"start_line":   startLine,
		"end_line":     endLine,
		"lines_shown":  endLine - startLine + 1,
		"file_size":    fileInfo.Size(),
		"line_numbers": showLineNumbers,
	}, nil
}

// readImage returns image metadata and, if the file is under the base64 size
// limit, the base64-encoded body alongside it.
func readImage(path, fullPath, mimeType string, fileInfo os.FileInfo) (map[string]any, error) {
	result := map[string]any{
		"path":      path,
		"mime_type": mimeType,
		"file_size": fileInfo.Size(),
	}

	if fileInfo.Size() > richImageMaxSize {
		result["content"] = fmt.Sprintf("image too large to encode: %d bytes (max: %d); metadata only", fileInfo.Size(), richImageMaxSize)
		result["encoded"] = false
		return result, nil
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	result["content"] = base64.StdEncoding.EncodeToString(data)
	result["encoded"] = true
	return result, nil
}

// readPDF extracts plain text from a page range (args.StartLine/EndLine,
// reused as 1-indexed page bounds), capped at richPDFMaxPages per request.
func readPDF(args ReadFileArgs, fullPath string, fileInfo os.FileInfo) (map[string]any, error) {
	if fileInfo.Size() > richDocumentMaxSize {
		return nil, fmt.Errorf("PDF too large: %d bytes (max: %d)", fileInfo.Size(), richDocumentMaxSize)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, fileInfo.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	totalPages := reader.NumPage()

	startPage := 1
	if args.StartLine > 0 {
		startPage = args.StartLine
	}
	endPage := totalPages
	if args.EndLine > 0 {
		endPage = args.EndLine
	}
	if endPage > totalPages {
		endPage = totalPages
	}
	if startPage > endPage {
		return nil, fmt.Errorf("invalid page range: start (%d) > end (%d)", startPage, endPage)
	}
	if endPage-startPage+1 > richPDFMaxPages {
		return nil, fmt.Errorf("page range too large: %d pages requested (max: %d); request a smaller range", endPage-startPage+1, richPDFMaxPages)
	}

	var parts []string
	for pageNum := startPage; pageNum <= endPage; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			parts = append(parts, fmt.Sprintf("--- Page %d (extraction failed: %v) ---", pageNum, err))
			continue
		}
		parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", pageNum, text))
	}

	return map[string]any{
		"content":     strings.Join(parts, "\n\n"),
		"path":        args.Path,
		"total_pages": totalPages,
		"start_page":  startPage,
		"end_page":    endPage,
		"file_size":   fileInfo.Size(),
	}, nil
}

// readDOCX extracts the full text body of a Word document.
func readDOCX(path, fullPath string, fileInfo os.FileInfo) (map[string]any, error) {
	if fileInfo.Size() > richDocumentMaxSize {
		return nil, fmt.Errorf("DOCX too large: %d bytes (max: %d)", fileInfo.Size(), richDocumentMaxSize)
	}

	doc, err := docx.ReadDocxFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOCX: %w", err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()

	return map[string]any{
		"content":   content,
		"path":      path,
		"file_size": fileInfo.Size(),
	}, nil
}

// readXLSX renders each sheet as a markdown table, capped at xlsxMaxSheets
// sheets, xlsxMaxRows rows, and xlsxMaxColumns columns per sheet.
func readXLSX(path, fullPath string, fileInfo os.FileInfo) (map[string]any, error) {
	if fileInfo.Size() > richDocumentMaxSize {
		return nil, fmt.Errorf("XLSX too large: %d bytes (max: %d)", fileInfo.Size(), richDocumentMaxSize)
	}

	f, err := excelize.OpenFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse XLSX: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	truncatedSheets := false
	if len(sheets) > xlsxMaxSheets {
		sheets = sheets[:xlsxMaxSheets]
		truncatedSheets = true
	}

	var parts []string
	for _, sheetName := range sheets {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			parts = append(parts, fmt.Sprintf("### %s\nError reading sheet: %v", sheetName, err))
			continue
		}
		parts = append(parts, renderSheetAsMarkdown(sheetName, rows))
	}

	content := strings.Join(parts, "\n\n")
	if truncatedSheets {
		content += fmt.Sprintf("\n\n(showing first %d of %d sheets)", xlsxMaxSheets, len(f.GetSheetList()))
	}

	return map[string]any{
		"content":   content,
		"path":      path,
		"sheets":    len(f.GetSheetList()),
		"file_size": fileInfo.Size(),
	}, nil
}

// renderSheetAsMarkdown builds a markdown table for one sheet's rows, capped
// at xlsxMaxRows rows and xlsxMaxColumns columns.
func renderSheetAsMarkdown(sheetName string, rows [][]string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("### %s\n", sheetName))

	if len(rows) == 0 {
		b.WriteString("(empty)")
		return b.String()
	}

	truncatedRows := len(rows) > xlsxMaxRows
	if truncatedRows {
		rows = rows[:xlsxMaxRows]
	}

	maxCols := 0
	for _, row := range rows {
		if len(row) > maxCols {
			maxCols = len(row)
		}
	}
	truncatedCols := maxCols > xlsxMaxColumns
	if truncatedCols {
		maxCols = xlsxMaxColumns
	}

	writeRow := func(row []string) {
		b.WriteString("|")
		for c := 0; c < maxCols; c++ {
			cell := ""
			if c < len(row) {
				cell = strings.ReplaceAll(row[c], "|", "\\|")
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}

	writeRow(rows[0])
	b.WriteString("|")
	for c := 0; c < maxCols; c++ {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}

	if truncatedRows || truncatedCols {
		b.WriteString(fmt.Sprintf("\n(truncated to %d rows x %d columns)\n", xlsxMaxRows, xlsxMaxColumns))
	}

	return b.String()
}

// notebookFile mirrors the subset of the Jupyter notebook format (.ipynb)
// needed for rendering: cell type, source lines, and text/plain outputs.
type notebookFile struct {
	Cells []notebookCell `json:"cells"`
}

type notebookCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
	Outputs  []notebookOutput `json:"outputs,omitempty"`
}

type notebookOutput struct {
	OutputType string          `json:"output_type"`
	Text       json.RawMessage `json:"text,omitempty"`
	Data       map[string]json.RawMessage `json:"data,omitempty"`
}

// readNotebook renders a Jupyter notebook cell-by-cell: source followed by
// any text/plain output, in cell order.
func readNotebook(path, fullPath string, fileInfo os.FileInfo) (map[string]any, error) {
	if fileInfo.Size() > richDocumentMaxSize {
		return nil, fmt.Errorf("notebook too large: %d bytes (max: %d)", fileInfo.Size(), richDocumentMaxSize)
	}

	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read notebook: %w", err)
	}

	var nb notebookFile
	if err := json.Unmarshal(raw, &nb); err != nil {
		return nil, fmt.Errorf("failed to parse notebook JSON: %w", err)
	}

	var parts []string
	for i, cell := range nb.Cells {
		var b strings.Builder
		b.WriteString(fmt.Sprintf("--- Cell %d (%s) ---\n", i+1, cell.CellType))
		b.WriteString(notebookSourceText(cell.Source))

		for _, out := range cell.Outputs {
			if text := notebookOutputText(out); text != "" {
				b.WriteString("\n--- output ---\n")
				b.WriteString(text)
			}
		}

		parts = append(parts, b.String())
	}

	return map[string]any{
		"content":   strings.Join(parts, "\n\n"),
		"path":      path,
		"cells":     len(nb.Cells),
		"file_size": fileInfo.Size(),
	}, nil
}

// notebookSourceText decodes a cell's source field, which the notebook
// format allows to be either a single string or a list of lines.
func notebookSourceText(raw json.RawMessage) string {
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, "")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	return ""
}

// notebookOutputText extracts a text/plain rendering from an output cell,
// whether it came from a stream ("text") or a display_data/execute_result
// ("data"/"text/plain").
func notebookOutputText(out notebookOutput) string {
	if len(out.Text) > 0 {
		return notebookSourceText(out.Text)
	}
	if raw, ok := out.Data["text/plain"]; ok {
		return notebookSourceText(raw)
	}
	return ""
}

func validatePath(workingDir, path string) error {
	// No absolute paths
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed, use relative paths")
	}

	// No directory traversal
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("directory traversal not allowed (..)")
	}

	// Ensure path is within working directory
	absPath, err := filepath.Abs(filepath.Join(workingDir, cleaned))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	absWorkDir, err := filepath.Abs(workingDir)
	if err != nil {
		return fmt.Errorf("invalid working directory: %w", err)
	}

	if !strings.HasPrefix(absPath, absWorkDir) {
		return fmt.Errorf("path escapes working directory")
	}

	// Check file exists
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", path)
	}

	return nil
}
