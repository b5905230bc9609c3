package agent

import (
	"encoding/base64"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/freeact-go/freeact/internal/materializer"
)

// mcpResultContent collapses an MCP call result into the materializer's
// content shapes: a plain string for a single text block, a Binary for a
// single image block, and a structured value for anything mixed. The
// materializer is the only downstream consumer that needs to understand all
// of these (spec §9).
func mcpResultContent(result *mcp.CallToolResult) any {
	if result == nil || len(result.Content) == 0 {
		return ""
	}

	if len(result.Content) == 1 {
		switch item := result.Content[0].(type) {
		case mcp.TextContent:
			return item.Text
		case mcp.ImageContent:
			return imageBinary(item)
		}
	}

	parts := make([]any, 0, len(result.Content))
	for _, item := range result.Content {
		switch c := item.(type) {
		case mcp.TextContent:
			parts = append(parts, map[string]any{"type": "text", "text": c.Text})
		case mcp.ImageContent:
			parts = append(parts, map[string]any{"type": "image", "media_type": c.MIMEType, "data": c.Data})
		default:
			parts = append(parts, c)
		}
	}
	return parts
}

// imageBinary decodes an MCP image block's base64 payload. Undecodable data
// is kept verbatim so the result is still inspectable downstream.
func imageBinary(item mcp.ImageContent) materializer.Binary {
	data, err := base64.StdEncoding.DecodeString(item.Data)
	if err != nil {
		data = []byte(item.Data)
	}
	return materializer.Binary{Data: data, MediaType: item.MIMEType}
}
