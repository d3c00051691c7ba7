package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleDataset() Dataset {
	return Dataset{
		Headers: []string{"email", "role"},
		Rows: []map[string]string{
			{"email": "ada@mayegue.app", "role": "teacher"},
			{"email": "kofi@mayegue.app", "role": "student"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("docx")
	assert.Error(t, err)
}

func TestRendererCSV(t *testing.T) {
	out, err := NewRenderer().Render(FormatCSV, sampleDataset(), "users")
	require.NoError(t, err)
	assert.Equal(t, "email,role\nada@mayegue.app,teacher\nkofi@mayegue.app,student\n", string(out))
}

func TestRendererPDF(t *testing.T) {
	out, err := NewRenderer().Render(FormatPDF, sampleDataset(), "users")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRendererXLSX(t *testing.T) {
	out, err := NewRenderer().Render(FormatXLSX, sampleDataset(), "users/export")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	rows, err := f.GetRows("usersexport")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"email", "role"}, rows[0])
	assert.Equal(t, []string{"kofi@mayegue.app", "student"}, rows[2])
}

func TestRendererRequiresHeaders(t *testing.T) {
	_, err := NewRenderer().Render(FormatXLSX, Dataset{}, "")
	assert.ErrorIs(t, err, ErrNoColumns)
}

func TestCSVNeutralisesFormulaCells(t *testing.T) {
	data := Dataset{Headers: []string{"display_name"}, Rows: []map[string]string{{"display_name": "=HYPERLINK(\"x\")"}, {"display_name": "Ngono"}}}
	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	assert.Equal(t, "display_name\n\"'=HYPERLINK(\"\"x\"\")\"\nNgono\n", string(out))
}

func TestPDFHandlesWideTables(t *testing.T) {
	data := Dataset{Headers: []string{"a", "b", "c", "d", "e", "f", "g", "h"}}
	for i := 0; i < 120; i++ {
		data.Rows = append(data.Rows, map[string]string{"a": strings.Repeat("long value ", 10), "h": "é"})
	}
	out, err := NewPDFExporter().Render(data, "admin_logs")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}
