package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{
		"schema", "runs", "ingest-qlog", "ingest-beir", "metrics", "evalset", "enrich",
		"candidates", "judge-set", "judge", "evaluate", "inspect", "publish",
	}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "search-eval", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("quiet"))
}

func TestIngestQlogCommand_Flags(t *testing.T) {
	for _, name := range []string{"db", "input", "format", "limit", "batch", "reset"} {
		assert.NotNil(t, ingestQlogCmd.Flags().Lookup(name), "ingest-qlog should have --%s", name)
	}
	input := ingestQlogCmd.Flags().Lookup("input")
	require.NotNil(t, input)
	assert.Equal(t, []string{"true"}, input.Annotations["cobra_annotation_bash_completion_one_required_flag"])
}

func TestCandidatesCommand_Flags(t *testing.T) {
	for _, name := range []string{"db", "topk", "engine", "replace"} {
		assert.NotNil(t, candidatesCmd.Flags().Lookup(name), "candidates should have --%s", name)
	}
}

func TestJudgeCommand_Flags(t *testing.T) {
	for _, name := range []string{"provider", "model", "base-url", "prompt-v", "prompts", "max-attempts", "sleep", "limit"} {
		assert.NotNil(t, judgeCmd.Flags().Lookup(name), "judge should have --%s", name)
	}
}

func TestInspectCommand_Flags(t *testing.T) {
	flag := inspectCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "10", flag.DefValue)
}

func TestPublishCommand_Flags(t *testing.T) {
	for _, name := range []string{"kpis", "eval"} {
		flag := publishCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "publish should have --%s", name)
		assert.Equal(t, "true", flag.DefValue)
	}
}
