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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSheetAsMarkdown_BasicTable(t *testing.T) {
	rows := [][]string{
		{"Name", "Age"},
		{"Alice", "30"},
		{"Bob", "25"},
	}

	out := renderSheetAsMarkdown("Sheet1", rows)

	assert.Contains(t, out, "### Sheet1")
	assert.Contains(t, out, "| Name | Age |")
	assert.Contains(t, out, "| --- | --- |")
	assert.Contains(t, out, "| Alice | 30 |")
	assert.Contains(t, out, "| Bob | 25 |")
}

func TestRenderSheetAsMarkdown_EmptySheet(t *testing.T) {
	out := renderSheetAsMarkdown("Empty", nil)
	assert.Contains(t, out, "### Empty")
	assert.Contains(t, out, "(empty)")
}

func TestRenderSheetAsMarkdown_TruncatesRowsAndColumns(t *testing.T) {
	var rows [][]string
	wideRow := make([]string, xlsxMaxColumns+10)
	for i := range wideRow {
		wideRow[i] = "x"
	}
	for i := 0; i < xlsxMaxRows+10; i++ {
		rows = append(rows, wideRow)
	}

	out := renderSheetAsMarkdown("Big", rows)

	assert.Contains(t, out, "truncated to 100 rows x 50 columns")
	// One header row + one separator row + xlsxMaxRows-1 data rows
	lineCount := strings.Count(out, "\n")
	assert.Less(t, lineCount, xlsxMaxRows+10)
}

func TestRenderSheetAsMarkdown_EscapesPipes(t *testing.T) {
	rows := [][]string{{"a|b", "c"}}
	out := renderSheetAsMarkdown("S", rows)
	assert.Contains(t, out, `a\|b`)
}

func TestNotebookSourceText_StringAndList(t *testing.T) {
	assert.Equal(t, "print(1)", notebookSourceText([]byte(`"print(1)"`)))
	assert.Equal(t, "line1line2", notebookSourceText([]byte(`["line1","line2"]`)))
	assert.Equal(t, "", notebookSourceText([]byte(`42`)))
}

func TestNotebookOutputText_StreamAndDisplayData(t *testing.T) {
	streamOut := notebookOutput{
		OutputType: "stream",
		Text:       []byte(`["hello\n"]`),
	}
	assert.Equal(t, "hello\n", notebookOutputText(streamOut))

	displayOut := notebookOutput{
		OutputType: "execute_result",
		Data: map[string]json.RawMessage{
			"text/plain": json.RawMessage(`"42"`),
		},
	}
	assert.Equal(t, "42", notebookOutputText(displayOut))
}

func TestReadNotebook_RendersCellsAndOutputs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "example.ipynb")
	content := `{
		"cells": [
			{"cell_type": "markdown", "source": ["# Title"]},
			{"cell_type": "code", "source": ["print(1)"], "outputs": [
				{"output_type": "stream", "text": ["1\n"]}
			]}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	info, err := os.Stat(path)
	require.NoError(t, err)

	result, err := readNotebook("example.ipynb", path, info)
	require.NoError(t, err)

	assert.Equal(t, 2, result["cells"])
	contentStr := result["content"].(string)
	assert.Contains(t, contentStr, "Cell 1 (markdown)")
	assert.Contains(t, contentStr, "# Title")
	assert.Contains(t, contentStr, "Cell 2 (code)")
	assert.Contains(t, contentStr, "print(1)")
	assert.Contains(t, contentStr, "1\n")
}

func TestReadNotebook_RejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.ipynb")
	require.NoError(t, os.WriteFile(path, []byte(`{"cells":[]}`), 0o644))

	info, err := os.Stat(path)
	require.NoError(t, err)

	fakeInfo := &fakeFileInfo{FileInfo: info, size: richDocumentMaxSize + 1}
	_, err = readNotebook("big.ipynb", path, fakeInfo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestReadImage_EncodesSmallImageAsBase64(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pixel.png")
	data := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	info, err := os.Stat(path)
	require.NoError(t, err)

	result, err := readImage("pixel.png", path, "image/png", info)
	require.NoError(t, err)

	assert.Equal(t, true, result["encoded"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), result["content"])
}

func TestReadImage_RefusesOversizedImageButReturnsMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.png")
	require.NoError(t, os.WriteFile(path, []byte("fake"), 0o644))

	info, err := os.Stat(path)
	require.NoError(t, err)
	fakeInfo := &fakeFileInfo{FileInfo: info, size: richImageMaxSize + 1}

	result, err := readImage("big.png", path, "image/png", fakeInfo)
	require.NoError(t, err)
	assert.Equal(t, false, result["encoded"])
	assert.Contains(t, result["content"].(string), "too large")
}

// fakeFileInfo wraps a real os.FileInfo but overrides Size(), so oversize
// limits can be tested without writing multi-megabyte fixtures to disk.
type fakeFileInfo struct {
	os.FileInfo
	size int64
}

func (f *fakeFileInfo) Size() int64 { return f.size }
