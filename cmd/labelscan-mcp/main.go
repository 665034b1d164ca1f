package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// scanRequest mirrors the labelscan API request model.
type scanRequest struct {
	URL          string `json:"url,omitempty"`
	Mode         string `json:"mode,omitempty"`
	MaxImages    int    `json:"max_images,omitempty"`
	SkipAnalysis bool   `json:"skip_analysis,omitempty"`
}

// scanResponse mirrors the labelscan API response model.
type scanResponse struct {
	Success       bool   `json:"success"`
	RunID         string `json:"run_id"`
	Report        string `json:"report"`
	AnalysisError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"analysis_error"`
	Page struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"page"`
	Harvest struct {
		Candidates int    `json:"candidates"`
		Acquired   int    `json:"acquired"`
		Duplicates int    `json:"duplicates"`
		Strategy   string `json:"strategy"`
		Images     []struct {
			Index int `json:"index"`
		} `json:"images"`
	} `json:"harvest"`
	Warnings []string `json:"warnings"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	apiURL := os.Getenv("LABELSCAN_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("LABELSCAN_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "LABELSCAN_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"labelscan",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	analyzeTool := mcp.NewTool("analyze_product",
		mcp.WithDescription("Read the product detail images of the product page open in the user's browser and return a structured report of ingredients, nutrition facts, allergens and certifications. Uses the user's logged-in browser session."),
		mcp.WithString("url",
			mcp.Description("Product page URL to open first. Omit to analyse the page that is already open."),
		),
		mcp.WithString("mode",
			mcp.Description("Image acquisition: 'fetch' (default, downloads the declared image source) or 'screenshot' (captures the rendered element)"),
			mcp.Enum("fetch", "screenshot"),
		),
		mcp.WithNumber("max_images",
			mcp.Description("Maximum number of images to analyse (default: 15, max: 50)"),
		),
	)
	s.AddTool(analyzeTool, handleAnalyzeProduct(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the labelscan API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func handleAnalyzeProduct(apiURL, apiKey string) server.ToolHandlerFunc {
	// A scan scrolls a whole product page and waits for the model.
	client := &http.Client{Timeout: 6 * time.Minute}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqBody := scanRequest{
			URL:       request.GetString("url", ""),
			Mode:      request.GetString("mode", ""),
			MaxImages: request.GetInt("max_images", 0),
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/scan", reqBody)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var scanResp scanResponse
		if err := json.Unmarshal(respBody, &scanResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !scanResp.Success {
			errMsg := "scan failed"
			if scanResp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", scanResp.Error.Code, scanResp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		return mcp.NewToolResultText(formatReport(&scanResp)), nil
	}
}

// formatReport renders the tool result with a short harvest header.
func formatReport(r *scanResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\nSource: %s\n", r.Page.Title, r.Page.URL)
	fmt.Fprintf(&sb, "Images: %d analysed (%d candidates, %d acquired, %s)\n",
		len(r.Harvest.Images), r.Harvest.Candidates, r.Harvest.Acquired, r.Harvest.Strategy)
	for _, w := range r.Warnings {
		fmt.Fprintf(&sb, "Warning: %s\n", w)
	}
	if r.AnalysisError != nil {
		fmt.Fprintf(&sb, "Analysis error: [%s] %s\n", r.AnalysisError.Code, r.AnalysisError.Message)
	}
	sb.WriteString("\n")
	sb.WriteString(r.Report)
	return sb.String()
}
