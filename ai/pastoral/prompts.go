package pastoral

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"text/template"

	"github.com/hrygo/shepherd/ai/configloader"
)

// Prompt names.
const (
	PromptDevotional     = "devotional"
	PromptSermonOutline  = "sermon_outline"
	PromptPrayerResponse = "prayer_response"
	PromptReadingSummary = "reading_summary"
)

// PromptConfig is one prompt, loadable from YAML.
type PromptConfig struct {
	Name         string `yaml:"name"`
	Version      string `yaml:"version"`
	SystemPrompt string `yaml:"system_prompt"`
	Template     string `yaml:"template"`
	MaxTokens    int    `yaml:"max_tokens"`

	tmpl *template.Template
}

func (p *PromptConfig) compile() error {
	tmpl, err := template.New(p.Name).Option("missingkey=error").Parse(p.Template)
	if err != nil {
		return fmt.Errorf("parse %s template: %w", p.Name, err)
	}
	p.tmpl = tmpl
	return nil
}

// Build renders the user prompt.
func (p *PromptConfig) Build(data any) (string, error) {
	tmpl := p.tmpl
	if tmpl == nil {
		var err error
		if tmpl, err = template.New(p.Name).Option("missingkey=error").Parse(p.Template); err != nil {
			return "", fmt.Errorf("parse %s template: %w", p.Name, err)
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s template: %w", p.Name, err)
	}
	return buf.String(), nil
}

// Prompts holds the prompt for every generator operation, keyed by name.
type Prompts map[string]*PromptConfig

// DefaultPrompts returns the built-in prompts.
func DefaultPrompts() Prompts {
	prompts := Prompts{
		PromptDevotional: {
			Name:    PromptDevotional,
			Version: "default",
			SystemPrompt: `You are a pastor writing short daily devotionals for your congregation.
Write warmly and plainly. Quote the passage accurately and do not invent verses.
Structure: a title line, a short reflection, one practical application and a closing prayer.`,
			Template: `Passage: {{.Passage}}
{{- if .Theme}}
Theme: {{.Theme}}{{end}}
{{- if .Audience}}
Audience: {{.Audience}}{{end}}

Write today's devotional.`,
			MaxTokens: 1200,
		},
		PromptSermonOutline: {
			Name:    PromptSermonOutline,
			Version: "default",
			SystemPrompt: `You are an experienced preacher helping a pastor prepare a sermon.
Work from the text: observe, interpret, then apply. Keep every point anchored in the passage.`,
			Template: `Passage: {{.Passage}}
{{- if .Title}}
Working title: {{.Title}}{{end}}

Produce a sermon outline with an introduction, {{.Points}} main points each with supporting verses and an illustration idea, and a conclusion with a call to response.`,
			MaxTokens: 2000,
		},
		PromptPrayerResponse: {
			Name:    PromptPrayerResponse,
			Version: "default",
			SystemPrompt: `You reply to prayer requests posted on a church prayer wall.
Reply in two to four sentences with compassion. Do not give medical, legal or financial advice.`,
			Template: `{{if .Author}}{{.Author}} asked{{else}}Someone asked{{end}} for prayer:
{{.Request}}

Write a short encouraging reply that assures them the church is praying.`,
			MaxTokens: 300,
		},
		PromptReadingSummary: {
			Name:    PromptReadingSummary,
			Version: "default",
			SystemPrompt: `You summarise Bible reading plan entries for busy readers.
Be accurate and brief. Do not add interpretation beyond a single takeaway.`,
			Template: `Reading plan: {{.Plan}}, day {{.Day}}
Passages:
{{- range .Passages}}
- {{.}}{{end}}

Summarise today's reading in one paragraph and end with one takeaway sentence.`,
			MaxTokens: 400,
		},
	}
	for _, p := range prompts {
		if err := p.compile(); err != nil {
			panic(err)
		}
	}
	return prompts
}

// LoadPrompts overlays every YAML prompt under dir on the defaults.
// Files must name one of the known prompts, each at most once.
func LoadPrompts(loader *configloader.Loader, dir string) (Prompts, error) {
	files, err := loader.LoadDir(dir, func(string) (any, error) {
		return &PromptConfig{}, nil
	})
	if err != nil {
		return nil, err
	}

	prompts := DefaultPrompts()
	seen := make(map[string]string, len(files))
	for _, path := range slices.Sorted(maps.Keys(files)) {
		p := files[path].(*PromptConfig)
		base, ok := prompts[p.Name]
		if !ok {
			return nil, fmt.Errorf("%s: unknown prompt %q", path, p.Name)
		}
		if first, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("%s: prompt %q already defined in %s", path, p.Name, first)
		}
		seen[p.Name] = path
		if p.SystemPrompt == "" {
			p.SystemPrompt = base.SystemPrompt
		}
		if p.Template == "" {
			p.Template = base.Template
		}
		if p.MaxTokens <= 0 {
			p.MaxTokens = base.MaxTokens
		}
		if err := p.compile(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		prompts[p.Name] = p
	}
	return prompts, nil
}
