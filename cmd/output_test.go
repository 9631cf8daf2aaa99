package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/synadia-labs/workload-probe/internal/service"
)

func TestPrintResult(t *testing.T) {
	errText := "exit status 2"
	outcome := service.Executed(service.CommandResult{
		Command:    "false",
		Output:     service.NoOutput,
		Error:      &errText,
		ExecutedAt: "2024-05-06T05:08:09.123Z",
		ExitCode:   2,
		Kind:       service.KindNonZeroExit,
	})

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, "json", outcome))
	assert.JSONEq(t, `{
		"executed": true,
		"result": {
			"command": "false",
			"output": "(no output)",
			"error": "exit status 2",
			"executedAt": "2024-05-06T05:08:09.123Z"
		}
	}`, buf.String())

	buf.Reset()
	require.NoError(t, printResult(&buf, "yaml", outcome))
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, true, doc["executed"])
	result, ok := doc["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "exit status 2", result["error"])
	assert.NotContains(t, result, "kind")
	assert.NotContains(t, result, "exitcode")

	buf.Reset()
	require.NoError(t, printResult(&buf, "yaml", service.NotRequested()))
	assert.Equal(t, "executed: false\n", buf.String())

	buf.Reset()
	require.NoError(t, printResult(&buf, "yaml", service.FetchResult{URL: "http://example.com", Content: "hi"}))
	doc = nil
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, map[string]any{"url": "http://example.com", "content": "hi"}, doc)

	assert.Error(t, printResult(&buf, "toml", outcome))
}
