package llm

import (
	"sort"

	"github.com/cloudwego/eino/schema"
)

// ToolDefinition is a capability offered to the model: a name, a description
// and a JSON-schema parameter contract.
type ToolDefinition struct {
	Name        string
	Description string
	Params      map[string]*schema.ParameterInfo
}

// ToolInfo returns the eino form of the definition.
func (d ToolDefinition) ToolInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        d.Name,
		Desc:        d.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(d.Params),
	}
}

// JSONSchema returns the parameter contract as a JSON-schema object.
func (d ToolDefinition) JSONSchema() map[string]any {
	return objectSchema("", d.Params)
}

func objectSchema(desc string, params map[string]*schema.ParameterInfo) map[string]any {
	props := make(map[string]any, len(params))
	required := make([]string, 0, len(params))
	for name, p := range params {
		if p == nil {
			continue
		}
		props[name] = paramSchema(p)
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	out := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	if desc != "" {
		out["description"] = desc
	}
	return out
}

func paramSchema(p *schema.ParameterInfo) map[string]any {
	if p.Type == schema.Object {
		return objectSchema(p.Desc, p.SubParams)
	}
	out := map[string]any{"type": string(p.Type)}
	if p.Desc != "" {
		out["description"] = p.Desc
	}
	if len(p.Enum) > 0 {
		out["enum"] = append([]string(nil), p.Enum...)
	}
	if p.Type == schema.Array && p.ElemInfo != nil {
		out["items"] = paramSchema(p.ElemInfo)
	}
	return out
}

// ToolInfos converts definitions for providers that take eino tool infos.
func ToolInfos(defs []ToolDefinition) []*schema.ToolInfo {
	if len(defs) == 0 {
		return nil
	}
	out := make([]*schema.ToolInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.ToolInfo())
	}
	return out
}
