package notification

import (
	"fmt"

	"github.com/flosch/pongo2/v6"
)

// Message bodies are kept as in-binary templates rather than files so the
// service has no runtime asset directory to ship.
var templateSources = map[string]string{
	"crisis_alert": `<h2>Crisis alert</h2>
<p>A message from client <strong>{{ subject_id }}</strong> was flagged as a potential crisis.</p>
<p>Message reference: {{ record_id }}</p>
<p>Detected at: {{ detected_at }}</p>
<p>Please review and follow the crisis response protocol immediately.</p>`,

	"task_overdue": `<p>Task <strong>{{ title }}</strong> for client {{ clientId }} is overdue.</p>
<p>It was due on {{ dueAt }}. Please follow up or close it out.</p>`,

	"wellbeing_change": `<p>Client {{ clientId }} wellbeing status changed from {{ previousStatus }} to {{ newStatus }}.</p>`,

	"assessment_completed": `<p>Client {{ clientId }} completed the {{ assessmentType }} assessment{% if score %} with a score of {{ score }}{% endif %}.</p>`,

	"generic": `<p>An automated workflow was triggered for client {{ clientId }}.</p>`,
}

func compileTemplates() (map[string]*pongo2.Template, error) {
	templates := make(map[string]*pongo2.Template, len(templateSources))
	for name, source := range templateSources {
		tpl, err := pongo2.FromString(source)
		if err != nil {
			return nil, fmt.Errorf("failed to compile template %s: %w", name, err)
		}
		templates[name] = tpl
	}
	return templates, nil
}
