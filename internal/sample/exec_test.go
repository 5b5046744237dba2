package sample

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hplt-project/opuscleaner-engine/internal/filters"
	"github.com/stretchr/testify/require"
)

func writeCountingSamplerScript(t *testing.T, dir string) (samplerPath, counterPath string) {
	t.Helper()
	samplerPath = filepath.Join(dir, "sampler.sh")
	counterPath = filepath.Join(dir, "calls")
	script := "#!/bin/sh\necho x >> '" + counterPath + "'\necho sampled\n"
	require.NoError(t, os.WriteFile(samplerPath, []byte(script), 0o755))
	return samplerPath, counterPath
}

// TestNewSampler_ReusesFreshArtefact pins down the on-disk artefact reuse
// SPEC_FULL §4.E describes: a second sampler call over unchanged column
// files must not re-invoke the external sampler program.
func TestNewSampler_ReusesFreshArtefact(t *testing.T) {
	dir := t.TempDir()
	samplerPath, counterPath := writeCountingSamplerScript(t, dir)

	srcFile := filepath.Join(dir, "a.en")
	require.NoError(t, os.WriteFile(srcFile, []byte("hello\n"), 0o644))
	info, err := os.Stat(srcFile)
	require.NoError(t, err)
	colFiles := []ColumnFile{{Language: "en", Path: srcFile, ModTime: info.ModTime().UnixNano()}}

	sampler := NewSampler(samplerPath, 5, dir)

	result, err := sampler(context.Background(), "ds", colFiles)
	require.NoError(t, err)
	require.Equal(t, "sampled\n", string(result.Stdout))

	result2, err := sampler(context.Background(), "ds", colFiles)
	require.NoError(t, err)
	require.Equal(t, result.Stdout, result2.Stdout)

	data, err := os.ReadFile(counterPath)
	require.NoError(t, err)
	require.Equal(t, "x\n", string(data), "sampler script must run exactly once; the second call should reuse the artefact")
}

// TestNewSampler_RerunsAfterSourceFileChanges proves the artefact reuse
// is conditioned on modification time: a newer source file must bust it.
func TestNewSampler_RerunsAfterSourceFileChanges(t *testing.T) {
	dir := t.TempDir()
	samplerPath, counterPath := writeCountingSamplerScript(t, dir)

	srcFile := filepath.Join(dir, "a.en")
	require.NoError(t, os.WriteFile(srcFile, []byte("hello\n"), 0o644))

	sampler := NewSampler(samplerPath, 5, dir)

	info, err := os.Stat(srcFile)
	require.NoError(t, err)
	colFiles := []ColumnFile{{Language: "en", Path: srcFile, ModTime: info.ModTime().UnixNano()}}
	_, err = sampler(context.Background(), "ds", colFiles)
	require.NoError(t, err)

	colFiles[0].ModTime = info.ModTime().UnixNano() + int64(1e9)
	_, err = sampler(context.Background(), "ds", colFiles)
	require.NoError(t, err)

	data, err := os.ReadFile(counterPath)
	require.NoError(t, err)
	require.Equal(t, "x\nx\n", string(data))
}

func TestNewStepRunner_BilingualRunsSynthesizedCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "upper.json"), []byte(`{"type":"bilingual","command":"tr a-z A-Z"}`), 0o644))
	reg, _, err := filters.Load(filepath.Join(dir, "*.json"))
	require.NoError(t, err)

	steps := []filters.Step{{Filter: "upper"}}
	runner := NewStepRunner(reg, []string{"en", "de"}, "splicer", steps)

	result, err := runner(context.Background(), 0, []byte("hello\n"))
	require.NoError(t, err)
	require.Equal(t, "HELLO\n", string(result.Stdout))
}

func TestNewStepRunner_MonolingualSplicesInProcess(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lower.json"), []byte(`{"type":"monolingual","command":"tr A-Z a-z"}`), 0o644))
	reg, _, err := filters.Load(filepath.Join(dir, "*.json"))
	require.NoError(t, err)

	steps := []filters.Step{{Filter: "lower", Language: "de"}}
	runner := NewStepRunner(reg, []string{"en", "de"}, "splicer", steps)

	result, err := runner(context.Background(), 0, []byte("HELLO\tWELT\n"))
	require.NoError(t, err)
	require.Equal(t, "HELLO\twelt\n", string(result.Stdout))
}

func TestNewStepRunner_FailingCommandReturnsExitCode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boom.json"), []byte(`{"type":"bilingual","command":"exit 3"}`), 0o644))
	reg, _, err := filters.Load(filepath.Join(dir, "*.json"))
	require.NoError(t, err)

	steps := []filters.Step{{Filter: "boom"}}
	runner := NewStepRunner(reg, nil, "splicer", steps)

	result, err := runner(context.Background(), 0, nil)
	require.Error(t, err)
	require.Equal(t, 3, result.ReturnCode)
}
