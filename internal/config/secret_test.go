package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSecret_String(t *testing.T) {
	assert.Equal(t, "[REDACTED]", Secret("super-secret-token").String())
	assert.Equal(t, "", Secret("").String())
}

func TestSecret_Printf(t *testing.T) {
	s := Secret("super-secret-token")
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, `"[REDACTED]"`, fmt.Sprintf("%#v", s))
	assert.Equal(t, `""`, fmt.Sprintf("%#v", Secret("")))
}

func TestSecret_MarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(map[string]Secret{"token": "super-secret-token"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "[REDACTED]")
	assert.NotContains(t, string(out), "super-secret-token")

	out, err = yaml.Marshal(map[string]Secret{"token": ""})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "[REDACTED]")
}

func TestSecret_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(struct {
		Token Secret `json:"token"`
	}{Token: "super-secret-token"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"[REDACTED]"}`, string(out))
}

func TestSecret_ValuePreserved(t *testing.T) {
	s := Secret("super-secret-token")
	assert.Equal(t, "super-secret-token", string(s))
}
