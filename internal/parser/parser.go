package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/homegroup-report-api/internal/models"
	appErrors "github.com/noah-isme/homegroup-report-api/pkg/errors"
)

// Canonical field names the header row must cover.
const (
	FieldStudentName               = "student_name"
	FieldYear                      = "year"
	FieldGender                    = "gender"
	FieldAcademicPerformance       = "academic_performance"
	FieldExtracurricularActivities = "extracurricular_activities"
	FieldOther                     = "other"
	FieldSampleReport              = "sample_report"
)

var requiredFields = []string{
	FieldStudentName,
	FieldYear,
	FieldGender,
	FieldAcademicPerformance,
	FieldExtracurricularActivities,
	FieldOther,
	FieldSampleReport,
}

// headerSynonyms maps lower-cased header cells to canonical field names.
var headerSynonyms = map[string]string{
	"student_name":               FieldStudentName,
	"student name":               FieldStudentName,
	"student number":             FieldStudentName,
	"name":                       FieldStudentName,
	"year":                       FieldYear,
	"year level":                 FieldYear,
	"grade":                      FieldYear,
	"gender":                     FieldGender,
	"sex":                        FieldGender,
	"academic_performance":       FieldAcademicPerformance,
	"academic performance":       FieldAcademicPerformance,
	"academics":                  FieldAcademicPerformance,
	"extracurricular_activities": FieldExtracurricularActivities,
	"extracurricular activities": FieldExtracurricularActivities,
	"extracurricular":            FieldExtracurricularActivities,
	"activities":                 FieldExtracurricularActivities,
	"other":                      FieldOther,
	"other information":          FieldOther,
	"notes":                      FieldOther,
	"sample_report":              FieldSampleReport,
	"sample report":              FieldSampleReport,
	"example report":             FieldSampleReport,
	"template report":            FieldSampleReport,
}

// Result holds the validated records plus rows skipped during validation.
type Result struct {
	Records []models.StudentRecord
	Skipped []models.SkippedRow
}

// Reader parses student spreadsheets.
type Reader struct {
	logger *zap.Logger
}

// NewReader constructs a spreadsheet reader.
func NewReader(logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{logger: logger}
}

// Parse opens the first worksheet (or sheetName when non-empty), maps headers
// to canonical fields and returns validated records in row order. Rows where
// every cell is empty are skipped silently; rows failing validation are
// returned in Skipped with a reason. A missing canonical header or zero valid
// records is a ParsingError.
func (r *Reader) Parse(filePath string, sheetName string) (*Result, error) {
	file, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrParsing.Code, appErrors.ErrParsing.Status, "failed to open spreadsheet")
	}
	defer file.Close() //nolint:errcheck

	if sheetName == "" {
		sheets := file.GetSheetList()
		if len(sheets) == 0 {
			return nil, appErrors.Clone(appErrors.ErrParsing, "spreadsheet has no worksheets")
		}
		sheetName = sheets[0]
	}

	rows, err := file.GetRows(sheetName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrParsing.Code, appErrors.ErrParsing.Status, fmt.Sprintf("failed to read worksheet %q", sheetName))
	}
	if len(rows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrParsing, "spreadsheet is empty")
	}

	columns, err := mapHeader(rows[0])
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for i, row := range rows[1:] {
		rowNumber := i + 2
		if rowIsEmpty(row) {
			continue
		}
		record, err := buildRecord(row, columns)
		if err != nil {
			r.logger.Sugar().Infow("skipping invalid row", "row", rowNumber, "reason", err.Error())
			result.Skipped = append(result.Skipped, models.SkippedRow{RowNumber: rowNumber, Reason: err.Error()})
			continue
		}
		result.Records = append(result.Records, record)
	}

	if len(result.Records) == 0 {
		return nil, appErrors.Clone(appErrors.ErrParsing, "no valid student data found in the file")
	}
	return result, nil
}

// mapHeader resolves each header cell, case-insensitively, to a canonical
// field. Every required field must be covered by some header.
func mapHeader(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(requiredFields))
	for idx, cell := range header {
		key := strings.ToLower(strings.TrimSpace(cell))
		if canonical, ok := headerSynonyms[key]; ok {
			if _, taken := columns[canonical]; !taken {
				columns[canonical] = idx
			}
		}
	}
	var missing []string
	for _, field := range requiredFields {
		if _, ok := columns[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, appErrors.Clone(appErrors.ErrParsing, fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")))
	}
	return columns, nil
}

func buildRecord(row []string, columns map[string]int) (models.StudentRecord, error) {
	yearRaw := cellValue(row, columns[FieldYear])
	year, err := strconv.Atoi(strings.TrimSpace(yearRaw))
	if err != nil {
		return models.StudentRecord{}, fmt.Errorf("year %q is not a number", yearRaw)
	}

	gender, ok := models.ParseGender(cellValue(row, columns[FieldGender]))
	if !ok {
		return models.StudentRecord{}, fmt.Errorf("gender %q not one of male/female/other", cellValue(row, columns[FieldGender]))
	}

	record := models.StudentRecord{
		StudentName:               strings.TrimSpace(cellValue(row, columns[FieldStudentName])),
		Year:                      year,
		Gender:                    gender,
		AcademicPerformance:       strings.TrimSpace(cellValue(row, columns[FieldAcademicPerformance])),
		ExtracurricularActivities: strings.TrimSpace(cellValue(row, columns[FieldExtracurricularActivities])),
		Other:                     strings.TrimSpace(cellValue(row, columns[FieldOther])),
		SampleReport:              strings.TrimSpace(cellValue(row, columns[FieldSampleReport])),
	}
	if err := record.Validate(); err != nil {
		return models.StudentRecord{}, err
	}
	return record, nil
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func rowIsEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
