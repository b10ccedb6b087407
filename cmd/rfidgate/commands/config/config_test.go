package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rfidgate/pkg/config"
)

func TestWarningsDefaultConfig(t *testing.T) {
	assert.Empty(t, Warnings(config.GetDefaultConfig()))
}

func TestWarnings(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.State.Backend = "memory"
	cfg.State.Watch = true
	cfg.OpLog.TextPath = ""
	cfg.OpLog.CSVPath = ""
	cfg.Metrics.Enabled = true
	cfg.API.Enabled = true
	cfg.Metrics.Port = 8080
	cfg.API.Port = 8080
	cfg.Backup.S3.AccessKeyID = "AKIA"

	warnings := Warnings(cfg)
	assert.Len(t, warnings, 5)
	assert.Contains(t, warnings, "state.watch only applies to the json backend")
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var doc struct {
		Title      string                     `json:"title"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "rfidgate Configuration", doc.Title)
	for _, key := range []string{"logging", "server", "device", "state", "oplog", "api", "backup"} {
		assert.Contains(t, doc.Properties, key)
	}
}
