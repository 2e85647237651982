package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danmuck/drawctl/internal/protocol"
	"github.com/danmuck/drawctl/internal/relay"
	"github.com/danmuck/drawctl/internal/templates"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ServerName = "drawio-controller"

	MsgMissingScript = "Missing script parameter"
)

// Tool names.
const (
	ToolExecuteScript = protocol.ActionExecuteScript
	ToolListTemplates = "list_templates"
	ToolApplyTemplate = "apply_template"
	ToolRelayStatus   = "relay_status"
)

// Relay is the broker surface the tools drive. *relay.Service satisfies it.
type Relay interface {
	SendCommand(ctx context.Context, action string, params map[string]any) protocol.Result
	Health() relay.Health
}

// Templates looks up canned scripts. *templates.Catalog satisfies it.
type Templates interface {
	List() []templates.Template
	Get(name string) (templates.Template, error)
}

type executeScriptArgs struct {
	Script string `json:"script" jsonschema:"JavaScript function body to run against the live diagram"`
}

type applyTemplateArgs struct {
	Name string `json:"name" jsonschema:"Template name from list_templates"`
}

type noArgs struct{}

// Tools binds the MCP tools to a relay and template catalog.
type Tools struct {
	relay     Relay
	templates Templates
}

func NewTools(r Relay, catalog Templates) *Tools {
	return &Tools{relay: r, templates: catalog}
}

// Register adds every tool to s. The template tools need a catalog.
func (t *Tools) Register(s *sdk.Server) {
	sdk.AddTool(s, &sdk.Tool{
		Name:        ToolExecuteScript,
		Description: "Execute JavaScript in the Draw.io editor. The variables graph, ui, editor and model are in scope; the script's return value is sent back as result.",
	}, t.executeScript)
	sdk.AddTool(s, &sdk.Tool{
		Name:        ToolRelayStatus,
		Description: "Report whether a Draw.io editor is connected and how many commands are pending.",
	}, t.relayStatus)
	if t.templates == nil {
		return
	}
	sdk.AddTool(s, &sdk.Tool{
		Name:        ToolListTemplates,
		Description: "List the canned diagram templates that apply_template can draw.",
	}, t.listTemplates)
	sdk.AddTool(s, &sdk.Tool{
		Name:        ToolApplyTemplate,
		Description: "Draw a canned diagram template into the current Draw.io page.",
	}, t.applyTemplate)
}

func (t *Tools) executeScript(ctx context.Context, _ *sdk.CallToolRequest, args executeScriptArgs) (*sdk.CallToolResult, any, error) {
	if args.Script == "" {
		return failureResult(MsgMissingScript), nil, nil
	}
	return t.forward(ctx, args.Script), nil, nil
}

func (t *Tools) relayStatus(_ context.Context, _ *sdk.CallToolRequest, _ noArgs) (*sdk.CallToolResult, any, error) {
	return jsonResult(t.relay.Health(), false), nil, nil
}

func (t *Tools) listTemplates(_ context.Context, _ *sdk.CallToolRequest, _ noArgs) (*sdk.CallToolResult, any, error) {
	return jsonResult(map[string]any{"templates": t.templates.List()}, false), nil, nil
}

func (t *Tools) applyTemplate(ctx context.Context, _ *sdk.CallToolRequest, args applyTemplateArgs) (*sdk.CallToolResult, any, error) {
	tpl, err := t.templates.Get(args.Name)
	if err != nil {
		return failureResult(fmt.Sprintf("Unknown template: %s", args.Name)), nil, nil
	}
	return t.forward(ctx, tpl.Script), nil, nil
}

// forward passes the script through and returns the relay result verbatim.
func (t *Tools) forward(ctx context.Context, script string) *sdk.CallToolResult {
	res := t.relay.SendCommand(ctx, protocol.ActionExecuteScript, map[string]any{"script": script})
	return jsonResult(res, !res.Success)
}

func failureResult(message string) *sdk.CallToolResult {
	return jsonResult(protocol.Failure(message), true)
}

func jsonResult(v any, isError bool) *sdk.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
		isError = true
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(data)}},
		IsError: isError,
	}
}
