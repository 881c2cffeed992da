package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json", "debug")
	l.WithField("deployment_id", "dep-1").Debug("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "dep-1", entry["deployment_id"])
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	l := New(&bytes.Buffer{}, "text", "shouting")
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestComponentField(t *testing.T) {
	entry := C("queue")
	assert.Equal(t, "queue", entry.Data["component"])
}
