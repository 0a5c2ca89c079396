package toolserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runServer(t *testing.T, backend Backend, requests ...string) []map[string]any {
	t.Helper()

	in := strings.NewReader(strings.Join(requests, "\n") + "\n")
	var out bytes.Buffer

	srv := NewServer(ServerInfo{Name: "lens-tools", Version: "test"}, in, &out)
	if backend != nil {
		RegisterDatastoreTools(srv, backend)
	}
	require.NoError(t, srv.Serve(context.Background()))

	var responses []map[string]any
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func result(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	require.Nil(t, resp["error"], "expected success, got error: %v", resp["error"])
	res, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	return res
}

func toolText(t *testing.T, resp map[string]any) string {
	t.Helper()
	content := result(t, resp)["content"].([]any)
	require.Len(t, content, 1)
	part := content[0].(map[string]any)
	require.Equal(t, "text", part["type"])
	return part["text"].(string)
}

func TestServerInitializeHandshake(t *testing.T) {
	responses := runServer(t, nil,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
	)

	require.Len(t, responses, 1, "notification must not produce a response")
	res := result(t, responses[0])
	assert.Equal(t, "2024-11-05", res["protocolVersion"])
	info := res["serverInfo"].(map[string]any)
	assert.Equal(t, "lens-tools", info["name"])
}

func TestServerOneResponsePerRequestInOrder(t *testing.T) {
	responses := runServer(t, NewMockBackend(),
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	)

	require.Len(t, responses, 3)
	for i, want := range []float64{1, 2, 3} {
		assert.Equal(t, want, responses[i]["id"])
	}
}

func TestServerListsRegisteredTools(t *testing.T) {
	responses := runServer(t, NewMockBackend(),
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
	)

	tools := result(t, responses[0])["tools"].([]any)
	var names []string
	for _, raw := range tools {
		names = append(names, raw.(map[string]any)["name"].(string))
	}
	assert.Equal(t, []string{"get_processing_status", "query_records", "update_record"}, names)
}

func TestServerMethodNotFound(t *testing.T) {
	responses := runServer(t, nil,
		`{"jsonrpc":"2.0","id":7,"method":"tools/destroy"}`,
	)

	errObj := responses[0]["error"].(map[string]any)
	assert.Equal(t, float64(-32601), errObj["code"])
}

func TestServerSkipsGarbageLines(t *testing.T) {
	responses := runServer(t, nil,
		`this is not json`,
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
	)

	require.Len(t, responses, 1)
	assert.Equal(t, float64(1), responses[0]["id"])
}

func TestQueryRecordsTool(t *testing.T) {
	responses := runServer(t, NewMockBackend(),
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"query_records","arguments":{"limit":2}}}`,
	)

	var payload struct {
		Records []map[string]any `json:"records"`
		Count   int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, responses[0])), &payload))
	assert.Equal(t, 2, payload.Count)
	assert.Equal(t, "mock-001", payload.Records[0]["_id"])
}

func TestUpdateRecordTool(t *testing.T) {
	backend := NewMockBackend()
	responses := runServer(t, backend,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"update_record","arguments":{"record_id":"mock-001","fields":{"_widget_result_1":"Cabinet with three breakers."}}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"update_record","arguments":{"record_id":"missing","fields":{"_widget_result_1":"x"}}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"update_record","arguments":{"record_id":"mock-001","fields":{}}}}`,
	)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(t, responses[0])), &payload))
	assert.Equal(t, true, payload["updated"])
	assert.Equal(t, 1, backend.UpdateCount())

	missErr := responses[1]["error"].(map[string]any)
	assert.Contains(t, missErr["message"], "record not found")

	emptyErr := responses[2]["error"].(map[string]any)
	assert.Contains(t, emptyErr["message"], "fields must not be empty")
}

func TestProcessingStatusToolAndResource(t *testing.T) {
	responses := runServer(t, NewMockBackend(),
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_processing_status"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"lens://status"}}`,
	)

	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(t, responses[0])), &status))
	assert.Equal(t, float64(3), status["total"])
	assert.Equal(t, float64(1), status["processed"])
	assert.Equal(t, float64(2), status["pending"])

	resources := result(t, responses[1])["resources"].([]any)
	require.Len(t, resources, 1)
	assert.Equal(t, "lens://status", resources[0].(map[string]any)["uri"])

	contents := result(t, responses[2])["contents"].([]any)
	require.Len(t, contents, 1)
	assert.Equal(t, "lens://status", contents[0].(map[string]any)["uri"])
}

func TestUnknownToolIsInvalidParams(t *testing.T) {
	responses := runServer(t, NewMockBackend(),
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"drop_tables"}}`,
	)

	errObj := responses[0]["error"].(map[string]any)
	assert.Equal(t, float64(-32602), errObj["code"])
	assert.Contains(t, errObj["message"], "unknown tool")
}
