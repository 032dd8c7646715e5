// Package mcp exposes the investigations admin operations as MCP tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corvid-labs/fieldaudit/internal/services/investigations/domain"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "fieldaudit-investigations"
	serverVersion = "0.1.0"
)

// Server binds investigations admin tools to an MCP server.
type Server struct {
	mcpServer *sdkmcp.Server
	service   *domain.Service
}

// NewServer registers the investigations tool set on a fresh MCP server.
func NewServer(service *domain.Service) (*Server, error) {
	if service == nil {
		return nil, errors.New("investigations service is required")
	}
	mcpServer := sdkmcp.NewServer(&sdkmcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	server := &Server{mcpServer: mcpServer, service: service}
	server.registerTools()
	return server, nil
}

// Run serves MCP over the given transport until the context is cancelled.
func (s *Server) Run(ctx context.Context, transport sdkmcp.Transport) error {
	if s == nil || s.mcpServer == nil {
		return errors.New("mcp server is not configured")
	}
	return s.mcpServer.Run(ctx, transport)
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.mcpServer, investigatorCreateTool(), s.investigatorCreateHandler)
	sdkmcp.AddTool(s.mcpServer, investigatorStartTool(), s.investigatorStartHandler)
	sdkmcp.AddTool(s.mcpServer, investigatorDeleteTool(), s.investigatorDeleteHandler)
	sdkmcp.AddTool(s.mcpServer, investigatorListTool(), s.investigatorListHandler)
	sdkmcp.AddTool(s.mcpServer, executionGetTool(), s.executionGetHandler)
	sdkmcp.AddTool(s.mcpServer, executionVerifyTool(), s.executionVerifyHandler)
	sdkmcp.AddTool(s.mcpServer, executionCorrectTool(), s.executionCorrectHandler)
	sdkmcp.AddTool(s.mcpServer, executionsCorrectAllTool(), s.executionsCorrectAllHandler)
	sdkmcp.AddTool(s.mcpServer, resultsListTool(), s.resultsListHandler)
}

// InvestigatorCreateInput represents the MCP tool input for investigator creation.
type InvestigatorCreateInput struct {
	TypeCode string `json:"type_code" jsonschema:"investigator type code (invoice_audit, waybill_audit)"`
	Name     string `json:"name" jsonschema:"display name for the investigator"`
}

// InvestigatorResult represents one configured investigator.
type InvestigatorResult struct {
	ID               string `json:"id" jsonschema:"investigator identifier"`
	TypeCode         string `json:"type_code" jsonschema:"investigator type code"`
	Name             string `json:"name" jsonschema:"display name"`
	Active           bool   `json:"active" jsonschema:"whether the investigator is active"`
	CreatedAt        string `json:"created_at" jsonschema:"RFC3339 timestamp when the investigator was created"`
	LastExecutedAt   string `json:"last_executed_at,omitempty" jsonschema:"RFC3339 timestamp of the last run"`
	TotalResultCount int64  `json:"total_result_count" jsonschema:"results accumulated across all runs"`
}

func investigatorCreateTool() *sdkmcp.Tool {
	return &sdkmcp.Tool{
		Name:        "investigator_create",
		Description: "Create a configured investigator instance from a catalog type code",
	}
}

func (s *Server) investigatorCreateHandler(ctx context.Context, _ *sdkmcp.CallToolRequest, input InvestigatorCreateInput) (*sdkmcp.CallToolResult, InvestigatorResult, error) {
	instance, err := s.service.CreateInvestigator(ctx, input.TypeCode, input.Name)
	if err != nil {
		return nil, InvestigatorResult{}, fmt.Errorf("investigator create failed: %w", err)
	}
	return nil, toInvestigatorResult(instance), nil
}

// InvestigatorStartInput represents the MCP tool input for starting a run.
type InvestigatorStartInput struct {
	InvestigatorID string `json:"investigator_id" jsonschema:"investigator identifier"`
}

// InvestigatorStartResult represents the MCP tool output for starting a run.
type InvestigatorStartResult struct {
	Started     bool   `json:"started" jsonschema:"whether an execution was launched"`
	ExecutionID string `json:"execution_id,omitempty" jsonschema:"launched execution identifier"`
}

func investigatorStartTool() *sdkmcp.Tool {
	return &sdkmcp.Tool{
		Name:        "investigator_start",
		Description: "Launch one investigation execution; missing or inactive investigators report started=false",
	}
}

func (s *Server) investigatorStartHandler(ctx context.Context, _ *sdkmcp.CallToolRequest, input InvestigatorStartInput) (*sdkmcp.CallToolResult, InvestigatorStartResult, error) {
	executionID, started, err := s.service.StartInvestigator(ctx, input.InvestigatorID)
	if err != nil {
		return nil, InvestigatorStartResult{}, fmt.Errorf("investigator start failed: %w", err)
	}
	return nil, InvestigatorStartResult{Started: started, ExecutionID: executionID}, nil
}

// InvestigatorDeleteInput represents the MCP tool input for investigator deletion.
type InvestigatorDeleteInput struct {
	InvestigatorID string `json:"investigator_id" jsonschema:"investigator identifier"`
}

// InvestigatorDeleteResult represents the MCP tool output for investigator deletion.
type InvestigatorDeleteResult struct {
	Deleted bool `json:"deleted" jsonschema:"whether the investigator and its history were removed"`
}

func investigatorDeleteTool() *sdkmcp.Tool {
	return &sdkmcp.Tool{
		Name:        "investigator_delete",
		Description: "Delete an investigator together with all its executions and results",
	}
}

func (s *Server) investigatorDeleteHandler(ctx context.Context, _ *sdkmcp.CallToolRequest, input InvestigatorDeleteInput) (*sdkmcp.CallToolResult, InvestigatorDeleteResult, error) {
	if err := s.service.DeleteInvestigator(ctx, input.InvestigatorID); err != nil {
		return nil, InvestigatorDeleteResult{}, fmt.Errorf("investigator delete failed: %w", err)
	}
	return nil, InvestigatorDeleteResult{Deleted: true}, nil
}

// InvestigatorListInput represents the MCP tool input for listing investigators.
type InvestigatorListInput struct{}

// InvestigatorListResult represents the MCP tool output for listing investigators.
type InvestigatorListResult struct {
	Investigators []InvestigatorResult `json:"investigators" jsonschema:"configured investigators, newest first"`
}

func investigatorListTool() *sdkmcp.Tool {
	return &sdkmcp.Tool{
		Name:        "investigator_list",
		Description: "List configured investigators",
	}
}

func (s *Server) investigatorListHandler(ctx context.Context, _ *sdkmcp.CallToolRequest, _ InvestigatorListInput) (*sdkmcp.CallToolResult, InvestigatorListResult, error) {
	instances, err := s.service.ListInstances(ctx)
	if err != nil {
		return nil, InvestigatorListResult{}, fmt.Errorf("investigator list failed: %w", err)
	}
	result := InvestigatorListResult{Investigators: make([]InvestigatorResult, 0, len(instances))}
	for _, instance := range instances {
		result.Investigators = append(result.Investigators, toInvestigatorResult(instance))
	}
	return nil, result, nil
}

// ExecutionGetInput represents the MCP tool input for inspecting one execution.
type ExecutionGetInput struct {
	ExecutionID string `json:"execution_id" jsonschema:"execution identifier"`
}

// ExecutionResult represents one investigation execution.
type ExecutionResult struct {
	ID             string `json:"id" jsonschema:"execution identifier"`
	InvestigatorID string `json:"investigator_id" jsonschema:"investigator identifier"`
	Status         string `json:"status" jsonschema:"execution status (running, completed, failed)"`
	StartedAt      string `json:"started_at" jsonschema:"RFC3339 timestamp when the run started"`
	CompletedAt    string `json:"completed_at,omitempty" jsonschema:"RFC3339 timestamp when the run reached a terminal state"`
	ResultCount    int64  `json:"result_count" jsonschema:"running result counter"`
}

func executionGetTool() *sdkmcp.Tool {
	return &sdkmcp.Tool{
		Name:        "execution_get",
		Description: "Fetch one execution with its status and result counter",
	}
}

func (s *Server) executionGetHandler(ctx context.Context, _ *sdkmcp.CallToolRequest, input ExecutionGetInput) (*sdkmcp.CallToolResult, ExecutionResult, error) {
	execution, err := s.service.GetExecution(ctx, input.ExecutionID)
	if err != nil {
		return nil, ExecutionResult{}, fmt.Errorf("execution get failed: %w", err)
	}
	return nil, toExecutionResult(execution), nil
}

// ExecutionVerifyInput represents the MCP tool input for counter verification.
type ExecutionVerifyInput struct {
	ExecutionID string `json:"execution_id" jsonschema:"execution identifier"`
}

// ExecutionVerifyResult represents the MCP tool output for counter verification.
type ExecutionVerifyResult struct {
	ExecutionID string `json:"execution_id" jsonschema:"execution identifier"`
	Reported    int64  `json:"reported" jsonschema:"counter value stored on the execution"`
	Actual      int64  `json:"actual" jsonschema:"true persisted result row count"`
	Accurate    bool   `json:"accurate" jsonschema:"whether reported matches actual"`
	Discrepancy int64  `json:"discrepancy" jsonschema:"actual minus reported"`
}

func executionVerifyTool() *sdkmcp.Tool {
	return &sdkmcp.Tool{
		Name:        "execution_verify",
		Description: "Compare an execution's result counter against its persisted result rows",
	}
}

func (s *Server) executionVerifyHandler(ctx context.Context, _ *sdkmcp.CallToolRequest, input ExecutionVerifyInput) (*sdkmcp.CallToolResult, ExecutionVerifyResult, error) {
	report, err := s.service.VerifyResultCount(ctx, input.ExecutionID)
	if err != nil {
		return nil, ExecutionVerifyResult{}, fmt.Errorf("execution verify failed: %w", err)
	}
	return nil, ExecutionVerifyResult{
		ExecutionID: report.ExecutionID,
		Reported:    report.Reported,
		Actual:      report.Actual,
		Accurate:    report.Accurate,
		Discrepancy: report.Discrepancy,
	}, nil
}

// ExecutionCorrectInput represents the MCP tool input for counter correction.
type ExecutionCorrectInput struct {
	ExecutionID string `json:"execution_id" jsonschema:"execution identifier"`
}

// ExecutionCorrectResult represents the MCP tool output for counter correction.
type ExecutionCorrectResult struct {
	Corrected bool `json:"corrected" jsonschema:"whether a drifted counter was overwritten"`
}

func executionCorrectTool() *sdkmcp.Tool {
	return &sdkmcp.Tool{
		Name:        "execution_correct",
		Description: "Overwrite a drifted execution counter with the true result row count; idempotent",
	}
}

func (s *Server) executionCorrectHandler(ctx context.Context, _ *sdkmcp.CallToolRequest, input ExecutionCorrectInput) (*sdkmcp.CallToolResult, ExecutionCorrectResult, error) {
	corrected, err := s.service.CorrectResultCount(ctx, input.ExecutionID)
	if err != nil {
		return nil, ExecutionCorrectResult{}, fmt.Errorf("execution correct failed: %w", err)
	}
	return nil, ExecutionCorrectResult{Corrected: corrected}, nil
}

// ExecutionsCorrectAllInput represents the MCP tool input for the sweep.
type ExecutionsCorrectAllInput struct{}

// ExecutionsCorrectAllResult represents the MCP tool output for the sweep.
type ExecutionsCorrectAllResult struct {
	Corrected int `json:"corrected" jsonschema:"number of executions whose counters were corrected"`
}

func executionsCorrectAllTool() *sdkmcp.Tool {
	return &sdkmcp.Tool{
		Name:        "executions_correct_all",
		Description: "Sweep every execution and correct drifted result counters",
	}
}

func (s *Server) executionsCorrectAllHandler(ctx context.Context, _ *sdkmcp.CallToolRequest, _ ExecutionsCorrectAllInput) (*sdkmcp.CallToolResult, ExecutionsCorrectAllResult, error) {
	corrected, err := s.service.CorrectAllResultCounts(ctx)
	if err != nil {
		return nil, ExecutionsCorrectAllResult{}, fmt.Errorf("executions correct all failed: %w", err)
	}
	return nil, ExecutionsCorrectAllResult{Corrected: corrected}, nil
}

// ResultsListInput represents the MCP tool input for listing results.
type ResultsListInput struct {
	ExecutionID string `json:"execution_id" jsonschema:"execution identifier"`
	PageSize    int    `json:"page_size,omitempty" jsonschema:"maximum rows to return (default 50)"`
}

// ResultEntry represents one persisted finding.
type ResultEntry struct {
	ID        int64  `json:"id" jsonschema:"result row identifier"`
	Severity  string `json:"severity" jsonschema:"finding severity (info, anomaly, critical)"`
	Message   string `json:"message" jsonschema:"finding message"`
	Payload   string `json:"payload,omitempty" jsonschema:"structured finding payload JSON"`
	CreatedAt string `json:"created_at" jsonschema:"RFC3339 timestamp when the finding was persisted"`
}

// ResultsListResult represents the MCP tool output for listing results.
type ResultsListResult struct {
	ExecutionID string        `json:"execution_id" jsonschema:"execution identifier"`
	Results     []ResultEntry `json:"results" jsonschema:"findings in insertion order"`
}

func resultsListTool() *sdkmcp.Tool {
	return &sdkmcp.Tool{
		Name:        "results_list",
		Description: "List an execution's persisted findings in insertion order",
	}
}

func (s *Server) resultsListHandler(ctx context.Context, _ *sdkmcp.CallToolRequest, input ResultsListInput) (*sdkmcp.CallToolResult, ResultsListResult, error) {
	results, err := s.service.ListResults(ctx, input.ExecutionID, input.PageSize)
	if err != nil {
		return nil, ResultsListResult{}, fmt.Errorf("results list failed: %w", err)
	}
	out := ResultsListResult{ExecutionID: input.ExecutionID, Results: make([]ResultEntry, 0, len(results))}
	for _, result := range results {
		out.Results = append(out.Results, ResultEntry{
			ID:        result.ID,
			Severity:  string(result.Severity),
			Message:   result.Message,
			Payload:   result.PayloadJSON,
			CreatedAt: result.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

func toInvestigatorResult(instance domain.Instance) InvestigatorResult {
	result := InvestigatorResult{
		ID:               instance.ID,
		TypeCode:         instance.TypeCode,
		Name:             instance.Name,
		Active:           instance.Active,
		CreatedAt:        instance.CreatedAt.UTC().Format(time.RFC3339),
		TotalResultCount: instance.TotalResultCount,
	}
	if instance.LastExecutedAt != nil {
		result.LastExecutedAt = instance.LastExecutedAt.UTC().Format(time.RFC3339)
	}
	return result
}

func toExecutionResult(execution domain.Execution) ExecutionResult {
	result := ExecutionResult{
		ID:             execution.ID,
		InvestigatorID: execution.InstanceID,
		Status:         string(execution.Status),
		StartedAt:      execution.StartedAt.UTC().Format(time.RFC3339),
		ResultCount:    execution.ResultCount,
	}
	if execution.CompletedAt != nil {
		result.CompletedAt = execution.CompletedAt.UTC().Format(time.RFC3339)
	}
	return result
}
