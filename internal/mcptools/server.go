package mcptools

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"medical-consilium/internal/consultation"
)

// version is set by the linker at build time.
var version = "dev"

// NewConsiliumMCPServer exposes consultation sessions as MCP tools.
func NewConsiliumMCPServer(svc consultation.Service) *mcp.Server {
	tools := &ConsultationTools{svc: svc}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "medical-consilium",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_agents",
		Description: "List the specialist agents that can join a consultation.",
	}, tools.ListAgents)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_consultation",
		Description: "Create a consultation with the selected specialists and case. Set start to run the first round before returning.",
	}, tools.CreateConsultation)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "send_follow_up",
		Description: "Send a follow-up question from the doctor. Returns once the specialists have answered.",
	}, tools.SendFollowUp)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_verdict",
		Description: "Return the current consensus verdict and each specialist's latest opinion.",
	}, tools.GetVerdict)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_transcript",
		Description: "Return the ordered consultation transcript.",
	}, tools.GetTranscript)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "end_consultation",
		Description: "End the consultation. Work still in flight is discarded.",
	}, tools.EndConsultation)

	return server
}

// NewHTTPHandler serves the MCP server over streamable HTTP.
func NewHTTPHandler(svc consultation.Service) http.Handler {
	server := NewConsiliumMCPServer(svc)
	return mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)
}
