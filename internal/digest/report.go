package digest

import (
	"html/template"
	"io"
)

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
table { border-collapse: collapse; font-family: sans-serif; font-size: 13px; }
th, td { border: 1px solid #ccc; padding: 4px 8px; vertical-align: top; }
th { background: #232f3e; color: #fff; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<table>
<tr><th>Name</th><th>Description</th><th>Best Practice</th><th>Pillar</th><th>Business Risk</th><th>Status</th><th>Identifier</th><th>Region</th></tr>
{{- range .Rows}}
<tr><td>{{.Check.CheckName}}</td><td>{{.Check.CheckDescription}}</td><td>{{if .URL}}<a href="{{.URL}}">{{.Check.BestPracticeTitle}}</a>{{else}}{{.Check.BestPracticeTitle}}{{end}}<br>{{.Check.BestPracticeDescription}}</td><td>{{.Check.PillarID}}</td><td>{{.Check.Risk}}</td><td>{{.Resource.Status}}</td><td>{{.Resource.Identifier}}</td><td>{{.Resource.Region}}</td></tr>
{{- end}}
</table>
</body>
</html>
`))

type reportRow struct {
	Check    *BestPracticeCheck
	Resource FlaggedResource
	URL      string
}

// RenderHTML writes the report table, one row per flagged resource.
func RenderHTML(w io.Writer, title, docsURL string, checks []BestPracticeCheck) error {
	var rows []reportRow
	for i := range checks {
		c := &checks[i]
		url := BestPracticeURL(docsURL, c.PillarID, c.BestPracticeID)
		for _, r := range c.FlaggedResources {
			rows = append(rows, reportRow{Check: c, Resource: r, URL: url})
		}
	}
	return reportTemplate.Execute(w, struct {
		Title string
		Rows  []reportRow
	}{Title: title, Rows: rows})
}
