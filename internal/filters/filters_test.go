package filters

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeDescriptor(t *testing.T, dir, filename, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(body), 0o644))
}

func TestLoad_SkipsInvalidFilesAndWarns(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "good.json", `{"type":"bilingual","command":"cat","parameters":{}}`)
	writeDescriptor(t, dir, "bad.json", `{not valid json`)

	reg, warnings, err := Load(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, reg.Names(), "good")
}

func TestLoad_NameFallsBackToFilenameStem(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "mydedupe.json", `{"type":"bilingual","command":"uniq"}`)

	reg, warnings, err := Load(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	require.Empty(t, warnings)
	def, err := reg.Get("mydedupe")
	require.NoError(t, err)
	require.Equal(t, "uniq", def.Command)
}

func TestGet_UnknownFilter(t *testing.T) {
	reg, _, err := Load()
	require.NoError(t, err)
	_, err = reg.Get("nope")
	require.ErrorIs(t, err, ErrUnknownFilter)
}

func TestBindStep_FillsDefaultsAndWarnsOnUnknownParameter(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "trim.json", `{
		"type": "bilingual",
		"command": "trim --max-length=$max_length",
		"parameters": {"max_length": {"type": "int", "default": 200, "min": 1}}
	}`)
	reg, _, err := Load(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	def, err := reg.Get("trim")
	require.NoError(t, err)

	bound, err := BindStep(Step{Filter: "trim", Parameters: map[string]interface{}{"surprise": true}}, def)
	require.NoError(t, err)
	require.Equal(t, float64(200), bound.Values["max_length"].Num)
	require.Contains(t, bound.Unknown, "surprise")
	require.Len(t, bound.Warnings, 2) // missing max_length default + unknown surprise
}

func TestBindStep_RejectsOutOfRangeValue(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "trim.json", `{
		"type": "bilingual",
		"command": "trim",
		"parameters": {"max_length": {"type": "int", "min": 1, "max": 100}}
	}`)
	reg, _, err := Load(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	def, err := reg.Get("trim")
	require.NoError(t, err)

	_, err = BindStep(Step{Filter: "trim", Parameters: map[string]interface{}{"max_length": 500}}, def)
	require.Error(t, err)
}

func TestBindStep_LanguageInvariant(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "lower.json", `{"type":"monolingual","command":"tr A-Z a-z"}`)
	writeDescriptor(t, dir, "dedupe.json", `{"type":"bilingual","command":"uniq"}`)
	reg, _, err := Load(filepath.Join(dir, "*.json"))
	require.NoError(t, err)

	lowerDef, _ := reg.Get("lower")
	_, err = BindStep(Step{Filter: "lower"}, lowerDef)
	require.Error(t, err, "monolingual filter requires a language")

	dedupeDef, _ := reg.Get("dedupe")
	_, err = BindStep(Step{Filter: "dedupe", Language: "en"}, dedupeDef)
	require.Error(t, err, "bilingual filter must not specify a language")
}

func TestSynthesize_BilingualPlainCommand(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "dedupe.json", `{"type":"bilingual","command":"uniq"}`)
	reg, _, err := Load(filepath.Join(dir, "*.json"))
	require.NoError(t, err)

	cmd, err := reg.Synthesize(Step{Filter: "dedupe"}, []string{"en", "de"}, "/usr/local/bin/splicer")
	require.NoError(t, err)
	require.Equal(t, "uniq", cmd)
}

func TestSynthesize_MonolingualWrapsWithSplicer(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "lower.json", `{"type":"monolingual","command":"tr A-Z a-z"}`)
	reg, _, err := Load(filepath.Join(dir, "*.json"))
	require.NoError(t, err)

	cmd, err := reg.Synthesize(Step{Filter: "lower", Language: "de"}, []string{"en", "de"}, "/usr/local/bin/splicer")
	require.NoError(t, err)
	require.Contains(t, cmd, "/usr/local/bin/splicer")
	require.Contains(t, cmd, "1 sh -c")
	require.Contains(t, cmd, "tr A-Z a-z")
}

func TestSynthesize_UnknownLanguageTokenFails(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "lower.json", `{"type":"monolingual","command":"tr A-Z a-z"}`)
	reg, _, err := Load(filepath.Join(dir, "*.json"))
	require.NoError(t, err)

	_, err = reg.Synthesize(Step{Filter: "lower", Language: "fr"}, []string{"en", "de"}, "splicer")
	require.Error(t, err)
}

func TestSynthesize_ParametersPrefixCommand(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "trim.json", `{
		"type": "bilingual",
		"command": "trim",
		"parameters": {"max_length": {"type": "int", "default": 200}}
	}`)
	reg, _, err := Load(filepath.Join(dir, "*.json"))
	require.NoError(t, err)

	cmd, err := reg.Synthesize(Step{Filter: "trim"}, nil, "splicer")
	require.NoError(t, err)
	require.Contains(t, cmd, "max_length='200';")
	require.Contains(t, cmd, "trim")
}

func TestSetActiveAndActive(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "a.json", `{"type":"bilingual","command":"cat"}`)
	reg, _, err := Load(filepath.Join(dir, "*.json"))
	require.NoError(t, err)

	SetActive(reg)
	require.Contains(t, Active().Names(), "a")
}
