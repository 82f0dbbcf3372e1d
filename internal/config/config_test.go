package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")

	cfg := Load("")

	require.Equal(t, 5, cfg.Admission.Capacity)
	require.Equal(t, 0.4, cfg.Curation.Threshold)
	require.Equal(t, 30, cfg.Curation.MaxDocuments)
	require.Equal(t, 3, cfg.Pipeline.SynthesisConcurrency)
	require.Equal(t, []string{"company", "news", "sustainability", "contacts", "engagement"}, cfg.CategoryNames())
	require.Equal(t, "news", cfg.Categories[1].Topic)
	require.Empty(t, cfg.Categories[0].Topic)
}

func TestLoadFileOverridesOnlyGivenFields(t *testing.T) {
	path := writeConfig(t, `
admission:
  capacity: 2
pipeline:
  stageTimeout: 45s
categories:
  - name: news
    queries: ["{company} press"]
    topic: finance
  - name: news
  - name: ""
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	require.Equal(t, 2, cfg.Admission.Capacity)
	require.Equal(t, 45*time.Second, cfg.Pipeline.StageTimeout)
	require.Equal(t, 10, cfg.Pipeline.EnrichmentConcurrency)
	require.Len(t, cfg.Categories, 1)
	require.Equal(t, "news", cfg.Categories[0].Label)
	require.Equal(t, "finance", cfg.Categories[0].Topic)
}

func TestLoadRevertsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
admission:
  capacity: -1
curation:
  threshold: 3
categories: []
`)

	cfg := Load(path)

	require.Equal(t, defaultCapacity, cfg.Admission.Capacity)
	require.Equal(t, 0.4, cfg.Curation.Threshold)
	require.Len(t, cfg.Categories, 5)
}

func TestLoadBrokenFileFallsBack(t *testing.T) {
	path := writeConfig(t, "admission: [not, a, map")

	_, err := LoadFile(path)
	require.Error(t, err)

	cfg := Load(path)
	require.Equal(t, defaultCapacity, cfg.Admission.Capacity)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(databaseDSNEnv, "postgres://db")
	t.Setenv(kafkaBrokersEnv, "k1:9092, k2:9092,")
	t.Setenv(chatGPTAPIKeyEnv, "secret")
	t.Setenv(httpAddrEnv, ":9999")

	cfg := Load("")

	require.Equal(t, "postgres://db", cfg.Database.DSN)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	require.Equal(t, "secret", cfg.ChatGPT.APIKey)
	require.Equal(t, ":9999", cfg.Server.Addr)
}
