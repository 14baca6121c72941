package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/config"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/policy"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/registry"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/upstream"
)

type fakeResolver struct {
	resolved registry.ResolvedTool
	ok       bool
	listed   []registry.ListedTool
}

func (f fakeResolver) List(userID string) []registry.ListedTool { return f.listed }
func (f fakeResolver) Resolve(name string) (registry.ResolvedTool, bool) {
	return f.resolved, f.ok
}

type fakeGate struct {
	decision policy.DecisionResponse
	err      error
	called   int
}

func (f *fakeGate) Evaluate(ctx context.Context, service, tool, userID string) (policy.DecisionResponse, error) {
	f.called++
	return f.decision, f.err
}

type fakeForwarder struct {
	result *mcp.CallToolResult
	err    error
	called int
}

func (f *fakeForwarder) Forward(ctx context.Context, resolved registry.ResolvedTool, args map[string]interface{}, user upstream.UserContext) (*mcp.CallToolResult, error) {
	f.called++
	return f.result, f.err
}

var sampleResolved = registry.ResolvedTool{
	Service: config.ServiceDefinition{Name: "search"},
	Tool:    config.ToolDefinition{Name: "web"},
}

func TestHandle_NotificationNeverProducesResponse(t *testing.T) {
	d := New(fakeResolver{}, &fakeGate{}, &fakeForwarder{})
	out := d.Handle(context.Background(), upstream.UserContext{}, []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	assert.Nil(t, out)
}

func TestHandle_RequestWithNullIDNeverProducesResponse(t *testing.T) {
	d := New(fakeResolver{}, &fakeGate{}, &fakeForwarder{})
	out := d.Handle(context.Background(), upstream.UserContext{}, []byte(`{"jsonrpc":"2.0","id":null,"method":"tools/list"}`))
	assert.Nil(t, out)
}

func TestHandle_Initialize(t *testing.T) {
	d := New(fakeResolver{}, &fakeGate{}, &fakeForwarder{})
	out := d.Handle(context.Background(), upstream.UserContext{}, []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	require.NotNil(t, out)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	caps := result["capabilities"].(map[string]interface{})
	tools := caps["tools"].(map[string]interface{})
	assert.Equal(t, true, tools["listChanged"])
}

func TestHandle_UnknownMethodWithIDIsMethodNotFound(t *testing.T) {
	d := New(fakeResolver{}, &fakeGate{}, &fakeForwarder{})
	out := d.Handle(context.Background(), upstream.UserContext{}, []byte(`{"jsonrpc":"2.0","id":2,"method":"bogus"}`))
	require.NotNil(t, out)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	errObj := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(-32601), errObj["code"])
}

func TestHandle_ToolsCall_NotFound(t *testing.T) {
	d := New(fakeResolver{ok: false}, &fakeGate{}, &fakeForwarder{})
	out := d.Handle(context.Background(), upstream.UserContext{UserID: "u1"}, []byte(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"search.web","arguments":{}}}`))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, true, result["isError"])
}

func TestHandle_ToolsCall_PolicyDenied(t *testing.T) {
	gate := &fakeGate{decision: policy.DecisionResponse{Allow: false, Reason: "not permitted"}}
	forwarder := &fakeForwarder{}
	d := New(fakeResolver{resolved: sampleResolved, ok: true}, gate, forwarder)

	out := d.Handle(context.Background(), upstream.UserContext{UserID: "u1"}, []byte(`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"search.web","arguments":{}}}`))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, true, result["isError"])
	assert.Equal(t, 0, forwarder.called, "denied calls must never reach the upstream")

	content := result["content"].([]interface{})
	block := content[0].(map[string]interface{})
	assert.Equal(t, "not permitted", block["text"])
}

func TestHandle_ToolsCall_PolicyUnavailableFailsClosed(t *testing.T) {
	gate := &fakeGate{err: errors.New("boom")}
	forwarder := &fakeForwarder{}
	d := New(fakeResolver{resolved: sampleResolved, ok: true}, gate, forwarder)

	out := d.Handle(context.Background(), upstream.UserContext{UserID: "u1"}, []byte(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"search.web","arguments":{}}}`))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, true, result["isError"])
	assert.Equal(t, 0, forwarder.called)

	content := result["content"].([]interface{})
	block := content[0].(map[string]interface{})
	assert.Contains(t, block["text"], "fail-closed")
}

func TestHandle_ToolsCall_HappyPathAppendsContext(t *testing.T) {
	gate := &fakeGate{decision: policy.DecisionResponse{Allow: true}}
	forwarder := &fakeForwarder{result: &mcp.CallToolResult{}}
	d := New(fakeResolver{resolved: sampleResolved, ok: true}, gate, forwarder)

	out := d.Handle(context.Background(), upstream.UserContext{UserID: "u1"}, []byte(`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"search.web","arguments":{"q":"cats"}}}`))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	result := resp["result"].(map[string]interface{})
	assert.NotEqual(t, true, result["isError"])
	assert.Equal(t, 1, forwarder.called)

	content := result["content"].([]interface{})
	require.Len(t, content, 1, "happy path appends exactly one trailing context block")
	ctxBlock := content[0].(map[string]interface{})
	assert.Equal(t, "text", ctxBlock["type"])

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(ctxBlock["text"].(string)), &parsed))
	assert.Equal(t, "SUCCESS", parsed["status"])
	assert.Equal(t, "search", parsed["service"])
	assert.Equal(t, "web", parsed["operation"])
}

func TestHandle_ToolsCall_UpstreamErrorReportsError(t *testing.T) {
	gate := &fakeGate{decision: policy.DecisionResponse{Allow: true}}
	forwarder := &fakeForwarder{err: errors.New("upstream boom")}
	d := New(fakeResolver{resolved: sampleResolved, ok: true}, gate, forwarder)

	out := d.Handle(context.Background(), upstream.UserContext{UserID: "u1"}, []byte(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"search.web","arguments":{}}}`))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, true, result["isError"])
}

func TestHandle_ToolsList(t *testing.T) {
	listed := []registry.ListedTool{{Name: "search.web", Description: "Search"}}
	d := New(fakeResolver{listed: listed}, &fakeGate{}, &fakeForwarder{})

	out := d.Handle(context.Background(), upstream.UserContext{UserID: "u1"}, []byte(`{"jsonrpc":"2.0","id":8,"method":"tools/list"}`))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	result := resp["result"].(map[string]interface{})
	tools := result["tools"].([]interface{})
	require.Len(t, tools, 1)
}

func TestHandle_ParseError(t *testing.T) {
	d := New(fakeResolver{}, &fakeGate{}, &fakeForwarder{})
	out := d.Handle(context.Background(), upstream.UserContext{}, []byte(`not json`))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	errObj := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(-32700), errObj["code"])
}
