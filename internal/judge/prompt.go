package judge

import (
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/search-eval/internal/model"
)

// DefaultPromptVersion is the built-in prompt.
const DefaultPromptVersion = "v1"

const promptV1 = `You are judging relevance between a scientific claim and paper abstracts.

CLAIM (query): {{.Query}}

Exactly {{.NRel}} of the following {{.K}} documents are relevant.
Return ONLY a JSON object of the form:
{"slots":[2,5]}
Rules:
- slots must be integers between 1 and {{.K}}
- output exactly {{.NRel}} unique slots

DOCUMENTS:
{{range $i, $d := .Docs}}{{if $i}}

{{end}}{{$d.Slot}}. {{$d.Title}}
   {{$d.Text}}{{end}}
`

// PromptDoc is one numbered document in a prompt.
type PromptDoc struct {
	Slot  int
	Title string
	Text  string
}

// PromptData is what a prompt template renders.
type PromptData struct {
	Query string
	NRel  int
	K     int
	Docs  []PromptDoc
}

// NewPromptData builds the template input for one query's slots. Titles are
// trimmed and texts clipped to textChars runes.
func NewPromptData(items []model.JudgeItem, textChars int) PromptData {
	d := PromptData{K: len(items)}
	if len(items) > 0 {
		d.Query = items[0].QueryText
		d.NRel = items[0].NRel
	}
	for _, it := range items {
		d.Docs = append(d.Docs, PromptDoc{
			Slot:  it.Slot,
			Title: strings.TrimSpace(it.Title),
			Text:  Clip(it.Text, textChars),
		})
	}
	return d
}

// Clip trims s and cuts it to n runes, marking the cut with an ellipsis.
func Clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if n < 0 || len(r) <= n {
		return s
	}
	return strings.TrimRightFunc(string(r[:n]), isSpace) + "…"
}

func isSpace(r rune) bool {
	return strings.ContainsRune(" \t\n\r\v\f", r)
}

// Prompts is a catalog of prompt templates keyed by version tag.
type Prompts struct {
	templates map[string]*template.Template
}

type promptFile struct {
	Prompts []struct {
		Version  string `yaml:"version"`
		Template string `yaml:"template"`
	} `yaml:"prompts"`
}

// DefaultPrompts returns the catalog holding only the built-in version.
func DefaultPrompts() *Prompts {
	p := &Prompts{templates: map[string]*template.Template{}}
	p.templates[DefaultPromptVersion] = template.Must(template.New(DefaultPromptVersion).Option("missingkey=error").Parse(promptV1))
	return p
}

// LoadPrompts adds the versions of a YAML catalog to the built-in one. A file
// may not redefine the built-in version.
func LoadPrompts(path string) (*Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "judge: read prompts %s", path)
	}
	var f promptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "judge: parse prompts %s", path)
	}

	for i, e := range f.Prompts {
		v := strings.TrimSpace(e.Version)
		if v == "" {
			return nil, eris.Errorf("judge: prompts %s entry %d has no version", path, i+1)
		}
		if _, dup := p.templates[v]; dup {
			return nil, eris.Errorf("judge: prompt version %q defined twice", v)
		}
		tmpl, err := template.New(v).Option("missingkey=error").Parse(e.Template)
		if err != nil {
			return nil, eris.Wrapf(err, "judge: parse prompt %q", v)
		}
		p.templates[v] = tmpl
	}
	return p, nil
}

// Versions lists the known version tags in order.
func (p *Prompts) Versions() []string {
	out := make([]string, 0, len(p.templates))
	for v := range p.templates {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Has reports whether version is in the catalog.
func (p *Prompts) Has(version string) bool {
	_, ok := p.templates[version]
	return ok
}

// Render executes the template of version with data.
func (p *Prompts) Render(version string, data PromptData) (string, error) {
	tmpl, ok := p.templates[version]
	if !ok {
		return "", eris.Errorf("judge: unknown prompt version %q (have %s)", version, strings.Join(p.Versions(), ", "))
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", eris.Wrapf(err, "judge: render prompt %q", version)
	}
	return b.String(), nil
}
