package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var decisionTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"money": func(v float64) string {
			if v < 0 {
				return "-$" + formatAmount(-v)
			}
			return "$" + formatAmount(v)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/decision.html")
	if err != nil {
		// Fallback to built-in template if file not found
		decisionTemplate = template.Must(template.New("decision").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	decisionTemplate = template.Must(template.New("decision").Funcs(funcMap).Parse(string(templateContent)))
}

func formatAmount(v float64) string {
	whole := int64(v)
	frac := int64((v-float64(whole))*100 + 0.5)
	digits := []byte{}
	if whole == 0 {
		digits = []byte("0")
	}
	for group := 0; whole > 0; group++ {
		if group > 0 && group%3 == 0 {
			digits = append([]byte{','}, digits...)
		}
		digits = append([]byte{byte('0' + whole%10)}, digits...)
		whole /= 10
	}
	if frac > 0 {
		return string(digits) + "." + string([]byte{byte('0' + frac/10), byte('0' + frac%10)})
	}
	return string(digits)
}

// TemplateData holds data for decision template rendering
type TemplateData struct {
	Decision    DecisionInfo
	ProjectName string
	Comments    []CommentInfo
	Audit       []AuditInfo
}

// RenderDecisionHTML renders the decision template with provided data
func RenderDecisionHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := decisionTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Decision.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .option { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
  </style>
</head>
<body>
  <h1>{{.Decision.Title}}</h1>
  {{if .Decision.Description}}<p>{{.Decision.Description}}</p>{{end}}
  <div class="meta">{{.ProjectName}} | {{.Decision.Phase}} | v{{.Decision.Version}} | {{.Decision.Status}}</div>
  {{range .Decision.Options}}<div class="option">{{.Title}} ({{money .CostDelta}})</div>{{end}}
</body>
</html>`
