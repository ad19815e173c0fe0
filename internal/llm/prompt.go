package llm

import (
	"strings"
	"text/template"

	"github.com/noah-isme/homegroup-report-api/internal/models"
	appErrors "github.com/noah-isme/homegroup-report-api/pkg/errors"
)

// reportPrompt instructs the model to mimic the sample report's style, use
// pronouns matching the student's gender and reference their year level.
const reportPrompt = `You are an experienced and caring high school teacher, your job is to write a report for students in your Home Group that comments on their academic performance, their wellbeing and their involvement in extracurricular activities.

Use this sample report below as a template.

{{.SampleReport}}

It is very important that you follow the template above, using the same structure, tone, language and length. You can vary adjectives in the closing sentence but keep the opening sentence the same. It must be written in Australian English.

Write a report for {{.StudentName}}.

They are in year {{.Year}}, use this year and class in place of any other mentions of year and class, such as 7A, 9B, 10D etc.

Their gender is {{.Gender}}, use the appropriate pro-nouns.

Academic Performance:
{{.AcademicPerformance}}

Extracurricular Activities:
For House Athletics and House swimming, do not list out all the events the student participate in, just provide an overview of their involvement with a general comment on the events they participated in.
{{.ExtracurricularActivities}}

Other important information to include 1 sentence on:
{{.Other}}`

var promptTemplate = template.Must(template.New("report").Parse(reportPrompt))

// RenderPrompt substitutes a student's fields into the fixed report prompt.
func RenderPrompt(record models.StudentRecord) (string, error) {
	if err := record.Validate(); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrGeneration.Code, appErrors.ErrGeneration.Status, "missing required student data")
	}
	var sb strings.Builder
	if err := promptTemplate.Execute(&sb, record); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrGeneration.Code, appErrors.ErrGeneration.Status, "failed to render prompt")
	}
	return sb.String(), nil
}
