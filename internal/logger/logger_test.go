package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterEmitsJSONOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(config.Config{AppEnv: "prod", CollectorID: "jira"}, &buf)
	l.Info().Int("count", 3).Msg("engine: drained")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "engine: drained", line["message"])
	assert.Equal(t, "jira", line["collector"])
	assert.EqualValues(t, 3, line["count"])
}
