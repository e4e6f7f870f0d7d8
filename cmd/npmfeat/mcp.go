package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kluth/npm-feature-extractor/internal/extract"
	"github.com/kluth/npm-feature-extractor/internal/registry"
	"github.com/kluth/npm-feature-extractor/internal/reporter"
)

func newMcpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the Model Context Protocol (MCP) server",
		Long: `Starts a JSON-RPC server implementing the Model Context Protocol (MCP)
over stdio, exposing feature extraction as tools.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.runMcpServer()
		},
	}
}

func (a *app) newMcpServer() (*server.MCPServer, error) {
	ex, err := a.newExtractor(a.logger)
	if err != nil {
		return nil, err
	}
	h := &mcpHandlers{app: a, extractor: ex}

	s := server.NewMCPServer(
		"npm-feature-extractor",
		version,
		server.WithLogging(),
	)

	extractTool := mcp.NewTool("extract_features",
		mcp.WithDescription("Extract the feature record of a local npm package directory or .tgz archive"),
		mcp.WithString("path",
			mcp.Description("Absolute path to the package directory or archive"),
			mcp.Required(),
		),
	)
	s.AddTool(extractTool, h.handleExtract)

	fetchTool := mcp.NewTool("fetch_and_extract",
		mcp.WithDescription("Download a package from the npm registry and extract its feature record"),
		mcp.WithString("package",
			mcp.Description("The package spec (e.g., 'express', 'lodash@4.17.21')"),
			mcp.Required(),
		),
	)
	s.AddTool(fetchTool, h.handleFetch)

	listTool := mcp.NewTool("list_features",
		mcp.WithDescription("List every extracted feature with its CSV column and description"),
	)
	s.AddTool(listTool, h.handleListFeatures)

	return s, nil
}

func (a *app) runMcpServer() error {
	s, err := a.newMcpServer()
	if err != nil {
		return err
	}
	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

type mcpHandlers struct {
	app       *app
	extractor *extract.Extractor
}

func stringArg(request mcp.CallToolRequest, name string) (string, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", mcp.NewToolResultError("arguments must be a map")
	}
	value, ok := args[name].(string)
	if !ok || value == "" {
		return "", mcp.NewToolResultError(name + " must be a non-empty string")
	}
	return value, nil
}

func reportResult(report reporter.Report) *mcp.CallToolResult {
	jsonBytes, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal report: %v", err))
	}
	return mcp.NewToolResultText(string(jsonBytes))
}

func (h *mcpHandlers) handleExtract(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, errResult := stringArg(request, "path")
	if errResult != nil {
		return errResult, nil
	}
	res, err := h.extractor.ExtractTarget(ctx, extract.TargetFor(path), h.app.cfg.Archive)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Extraction failed: %v", err)), nil
	}
	return reportResult(reporter.NewReport(path, res.Features, res.Positions)), nil
}

func (h *mcpHandlers) handleFetch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spec, errResult := stringArg(request, "package")
	if errResult != nil {
		return errResult, nil
	}
	client := registry.NewClient(h.app.cfg.RegistryURL, h.app.cfg.RegistryTimeout)
	report, err := h.app.fetchOne(ctx, client, h.extractor, spec)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Fetch failed: %v", err)), nil
	}
	return reportResult(report), nil
}

func (h *mcpHandlers) handleListFeatures(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var buf bytes.Buffer
	writeFeatureTable(&buf)
	return mcp.NewToolResultText(buf.String()), nil
}
