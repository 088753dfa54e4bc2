package export

import (
	"bytes"
	"html/template"
	"sort"
	"strings"
	"time"

	"validai/api/internal/store"
)

var snapshotTemplate = template.Must(template.New("snapshot").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(snapshotHTMLTemplate))

// TemplateData holds data for snapshot template rendering
type TemplateData struct {
	ProcessorName string
	Description   string
	VersionNumber int
	SnapshotName  string
	Author        string
	CreatedAt     time.Time
	Areas         []TemplateArea
}

// TemplateArea holds one area and its ordered operations
type TemplateArea struct {
	Name       string
	Operations []TemplateOperation
}

// TemplateOperation holds operation data for the template
type TemplateOperation struct {
	Name          string
	OperationType string
	Prompt        string
}

// BuildTemplateData groups a playbook's operations under their areas in
// display order.
func BuildTemplateData(config store.PlaybookConfig, snapshot store.Snapshot) TemplateData {
	data := TemplateData{
		ProcessorName: config.ProcessorName,
		Description:   config.Description,
		VersionNumber: snapshot.VersionNumber,
		SnapshotName:  snapshot.Name,
		Author:        snapshot.CreatedBy,
		CreatedAt:     snapshot.CreatedAt,
	}

	areas := make([]TemplateArea, 0, len(config.Areas))
	for _, area := range config.Areas {
		ta := TemplateArea{Name: area.Name}
		ops := make([]store.PlaybookOperation, 0)
		for _, op := range config.Operations {
			if op.Area == area.Name {
				ops = append(ops, op)
			}
		}
		sort.SliceStable(ops, func(i, j int) bool { return ops[i].Position < ops[j].Position })
		for _, op := range ops {
			ta.Operations = append(ta.Operations, TemplateOperation{
				Name:          op.Name,
				OperationType: op.OperationType,
				Prompt:        op.Prompt,
			})
		}
		areas = append(areas, ta)
	}
	data.Areas = areas
	return data
}

// RenderSnapshotHTML renders the snapshot template with provided data
func RenderSnapshotHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := snapshotTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const snapshotHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.ProcessorName}} v{{.VersionNumber}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; border-bottom: 1px solid #ccc; padding-bottom: 0.25rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; margin: 1rem 0; }
    th, td { text-align: left; padding: 0.5rem; border-bottom: 1px solid #eee; vertical-align: top; }
    th { background: #f5f5f5; }
    .type { white-space: nowrap; color: #555; font-size: 0.85em; text-transform: uppercase; }
    .empty { color: #999; font-style: italic; }
  </style>
</head>
<body>
  <h1>{{.ProcessorName}}</h1>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  <div class="meta">
    Version {{.VersionNumber}}{{if .SnapshotName}} &mdash; {{.SnapshotName}}{{end}}
    | {{.Author}} | {{formatDate .CreatedAt "Jan 2, 2006"}}
  </div>
  {{range .Areas}}
  <h2>{{.Name}}</h2>
  {{if .Operations}}
  <table>
    <tr><th>Operation</th><th>Type</th><th>Prompt</th></tr>
    {{range .Operations}}
    <tr><td>{{.Name}}</td><td class="type">{{.OperationType}}</td><td>{{.Prompt}}</td></tr>
    {{end}}
  </table>
  {{else}}
  <p class="empty">No operations in this area.</p>
  {{end}}
  {{end}}
</body>
</html>`
