package parser

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/homegroup-report-api/internal/models"
	appErrors "github.com/noah-isme/homegroup-report-api/pkg/errors"
)

var testHeader = []string{"Student Name", "Year", "Gender", "Academic Performance", "Extracurricular Activities", "Other", "Sample Report"}

func studentRow(name string, year string, gender string) []string {
	return []string{name, year, gender, "Strong results in mathematics.", "House athletics and debating.", "Recently joined the chess club.", "Alex has had a productive semester."}
}

func writeSheet(t *testing.T, rows [][]string) string {
	t.Helper()
	f := excelize.NewFile()
	for i, row := range rows {
		cell := fmt.Sprintf("A%d", i+1)
		r := row
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	path := filepath.Join(t.TempDir(), "students.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestParsePreservesRowOrder(t *testing.T) {
	path := writeSheet(t, [][]string{
		testHeader,
		studentRow("Alice", "7", "female"),
		studentRow("Bob", "9", "male"),
		studentRow("Casey", "12", "other"),
	})

	result, err := NewReader(nil).Parse(path, "")
	require.NoError(t, err)
	require.Len(t, result.Records, 3)
	assert.Equal(t, "Alice", result.Records[0].StudentName)
	assert.Equal(t, "Bob", result.Records[1].StudentName)
	assert.Equal(t, "Casey", result.Records[2].StudentName)
	assert.Equal(t, models.GenderOther, result.Records[2].Gender)
	assert.Empty(t, result.Skipped)
}

func TestParseHeaderSynonyms(t *testing.T) {
	header := []string{"Student Number", "Year Level", "Sex", "Academics", "Activities", "Notes", "Example Report"}
	path := writeSheet(t, [][]string{header, studentRow("Dana", "8", "Female")})

	result, err := NewReader(nil).Parse(path, "")
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "Dana", result.Records[0].StudentName)
	assert.Equal(t, models.GenderFemale, result.Records[0].Gender)
}

func TestParseSkipsInvalidRowsWithReason(t *testing.T) {
	path := writeSheet(t, [][]string{
		testHeader,
		studentRow("Alice", "7", "female"),
		studentRow("Bob", "9", "unknown"),
		studentRow("Casey", "13", "male"),
		{"", "", "", "", "", "", ""},
		studentRow("", "8", "male"),
	})

	result, err := NewReader(nil).Parse(path, "")
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "Alice", result.Records[0].StudentName)

	// the all-empty row is not counted as skipped
	require.Len(t, result.Skipped, 3)
	assert.Equal(t, 3, result.Skipped[0].RowNumber)
	assert.Contains(t, result.Skipped[0].Reason, "gender")
	assert.Contains(t, result.Skipped[1].Reason, "year")
	assert.Contains(t, result.Skipped[2].Reason, "student_name")
}

func TestParseMissingHeaderFails(t *testing.T) {
	header := []string{"Student Name", "Year", "Gender", "Academic Performance", "Extracurricular Activities", "Other"}
	path := writeSheet(t, [][]string{header, {"Alice", "7", "female", "a", "b", "c"}})

	_, err := NewReader(nil).Parse(path, "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrParsing.Code))
	assert.Contains(t, err.Error(), "sample_report")
}

func TestParseZeroValidRowsFails(t *testing.T) {
	path := writeSheet(t, [][]string{
		testHeader,
		studentRow("Bob", "9", "unknown"),
	})

	_, err := NewReader(nil).Parse(path, "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrParsing.Code))
}

func TestParseThreeRowSheetWithOneInvalidGender(t *testing.T) {
	path := writeSheet(t, [][]string{
		testHeader,
		studentRow("Alice", "7", "female"),
		studentRow("Bob", "9", "nonbinary"),
		studentRow("Casey", "11", "male"),
	})

	result, err := NewReader(nil).Parse(path, "")
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "Alice", result.Records[0].StudentName)
	assert.Equal(t, "Casey", result.Records[1].StudentName)
}
