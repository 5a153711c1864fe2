package noticecast

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/agrivoice/kit"
)

// RegisterMCP registers the agrivoice tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerListNoticesTool(srv)
	s.registerIngestNowTool(srv)
	s.registerJobStatusTool(srv)
	s.registerStatsTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	sc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sc["required"] = required
	}
	return sc
}

func (s *Service) endpoint(name string, e kit.Endpoint) kit.Endpoint {
	return kit.Logging(s.logger, name)(e)
}

// --- list_notices ---

type listNoticesRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func (s *Service) registerListNoticesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "agrivoice_list_notices",
		Description: "List stored agricultural notices, newest first, with their audio file names.",
		InputSchema: inputSchema(map[string]any{
			"limit":  map[string]any{"type": "integer", "description": "Max notices (default 50)"},
			"offset": map[string]any{"type": "integer", "description": "Notices to skip"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*listNoticesRequest)
		return s.ListNotices(ctx, r.Limit, r.Offset)
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeJSON[listNoticesRequest]())
}

// --- ingest_now ---

type ingestNowRequest struct{}

func (s *Service) registerIngestNowTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "agrivoice_ingest_now",
		Description: "Start an ingestion pass in the background. Returns a job id to poll with agrivoice_job_status.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		id, err := s.SubmitIngest()
		if err != nil {
			return nil, err
		}
		return map[string]string{"job_id": id, "status": "started"}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeJSON[ingestNowRequest]())
}

// --- job_status ---

type jobStatusRequest struct {
	ID    string `json:"id,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Service) registerJobStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "agrivoice_job_status",
		Description: "Get a background job by id, or the most recent jobs when no id is given.",
		InputSchema: inputSchema(map[string]any{
			"id":    map[string]any{"type": "string", "description": "Job id"},
			"limit": map[string]any{"type": "integer", "description": "Recent jobs to list when id is empty (default 20)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*jobStatusRequest)
		if r.ID != "" {
			return s.Job(ctx, r.ID)
		}
		return s.Jobs(ctx, r.Limit)
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeJSON[jobStatusRequest]())
}

// --- stats ---

type statsRequest struct{}

func (s *Service) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "agrivoice_stats",
		Description: "Notice and registrant counts, scrape cursor, audio artifacts and schedule.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return s.Stats(ctx)
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeJSON[statsRequest]())
}
