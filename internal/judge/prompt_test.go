package judge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/search-eval/internal/model"
)

func TestClip(t *testing.T) {
	assert.Equal(t, "abc…", Clip("abc def", 4))
	assert.Equal(t, "abc def", Clip("  abc def \n", 7))
	assert.Equal(t, "", Clip("   ", 3))
	assert.Equal(t, "héll…", Clip("héllo wörld", 4))
	assert.Equal(t, "keep all", Clip("keep all", -1))
}

func TestRender_V1(t *testing.T) {
	items := []model.JudgeItem{
		{QueryID: "1", QueryText: "Vitamin D improves bone density", NRel: 1, Slot: 1, DocID: "d1", Title: " T1 ", Text: "  Alpha beta gamma delta  "},
		{QueryID: "1", QueryText: "Vitamin D improves bone density", NRel: 1, Slot: 2, DocID: "d2", Title: "T2", Text: "short"},
	}

	got, err := DefaultPrompts().Render(DefaultPromptVersion, NewPromptData(items, 10))
	require.NoError(t, err)

	want := "You are judging relevance between a scientific claim and paper abstracts.\n\n" +
		"CLAIM (query): Vitamin D improves bone density\n\n" +
		"Exactly 1 of the following 2 documents are relevant.\n" +
		"Return ONLY a JSON object of the form:\n" +
		`{"slots":[2,5]}` + "\n" +
		"Rules:\n" +
		"- slots must be integers between 1 and 2\n" +
		"- output exactly 1 unique slots\n\n" +
		"DOCUMENTS:\n" +
		"1. T1\n   Alpha beta…" +
		"\n\n" +
		"2. T2\n   short" +
		"\n"
	assert.Equal(t, want, got)
}

func TestLoadPrompts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`prompts:
  - version: terse
    template: "Q={{.Query}} pick {{.NRel}} of {{.K}}:{{range .Docs}} [{{.Slot}}] {{.Title}}{{end}}"
`), 0o644))

	p, err := LoadPrompts(path)
	require.NoError(t, err)
	assert.True(t, p.Has("terse"))
	assert.False(t, p.Has("v2"))
	assert.Equal(t, []string{"terse", "v1"}, p.Versions())

	out, err := p.Render("terse", PromptData{Query: "x", NRel: 1, K: 2, Docs: []PromptDoc{{Slot: 1, Title: "a"}, {Slot: 2, Title: "b"}}})
	require.NoError(t, err)
	assert.Equal(t, "Q=x pick 1 of 2: [1] a [2] b", out)

	_, err = p.Render("v9", PromptData{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown prompt version "v9"`)
}

func TestLoadPrompts_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	_, err := LoadPrompts(write("dup.yaml", "prompts:\n  - version: v1\n    template: x\n"))
	assert.ErrorContains(t, err, "defined twice")

	_, err = LoadPrompts(write("nover.yaml", "prompts:\n  - template: x\n"))
	assert.ErrorContains(t, err, "has no version")

	_, err = LoadPrompts(write("bad.yaml", "prompts:\n  - version: b\n    template: \"{{.Query\"\n"))
	assert.ErrorContains(t, err, `parse prompt "b"`)

	_, err = LoadPrompts(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read prompts")

	p, err := LoadPrompts("")
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultPromptVersion}, p.Versions())
}
