package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/procura-agent/server/internal/agent/model"
)

//go:embed template/system_prompt.txt
var coreSystemPrompt string

// ToolSummary is what the system prompt tells the model about one tool.
type ToolSummary struct {
	Name        string
	Description string
	Mutating    bool
}

// RenderSystem renders the orchestrator system prompt through the eino
// prompt component so prompt callbacks fire.
func RenderSystem(ctx context.Context, config model.ResponsePromptConfig, searchTool string, tools []ToolSummary) (string, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(coreSystemPrompt),
	)
	vars := map[string]any{
		"BusinessType": config.BusinessType,
		"BusinessName": config.BusinessName,
		"SearchTool":   searchTool,
		"Tools":        tools,
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("system prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("system prompt render: empty result")
	}
	return msgs[0].Content, nil
}
