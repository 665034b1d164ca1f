package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/use-agent/labelscan/models"
)

var scanFlags struct {
	url          string
	mode         string
	maxImages    int
	interactive  bool
	skipAnalysis bool
	jsonOut      bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Harvest the open product page and print the label report.",
	Example: `  labelscan scan
  labelscan scan --url https://www.coupang.com/vp/products/123 --mode screenshot
  labelscan scan --interactive`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringVar(&scanFlags.url, "url", "", "navigate the selected tab to this URL first")
	f.StringVar(&scanFlags.mode, "mode", "", "acquisition mode: fetch or screenshot (LABELSCAN_ACQUIRE_MODE)")
	f.IntVar(&scanFlags.maxImages, "max-images", 0, "number of images sent for analysis (LABELSCAN_MAX_IMAGES)")
	f.BoolVarP(&scanFlags.interactive, "interactive", "i", false, "prompt for the product URL on stdin")
	f.BoolVar(&scanFlags.skipAnalysis, "skip-analysis", false, "only harvest, do not call Gemini")
	f.BoolVar(&scanFlags.jsonOut, "json", false, "print the full response as JSON")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sc, cc, err := newScraper(cmd.Context(), cfg, nil, !scanFlags.skipAnalysis)
	if err != nil {
		return err
	}
	defer cc.Close()

	url := scanFlags.url
	if scanFlags.interactive {
		url, err = promptURL(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
	}

	resp, err := sc.Scan(cmd.Context(), &models.ScanRequest{
		URL:          url,
		Mode:         scanFlags.mode,
		MaxImages:    scanFlags.maxImages,
		SkipAnalysis: scanFlags.skipAnalysis,
	})
	if err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), resp, scanFlags.jsonOut)
}

// promptURL asks for a product URL. An empty answer keeps the loaded page.
func promptURL(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Product URL (empty = current tab): ")
	s := bufio.NewScanner(in)
	if !s.Scan() {
		if err := s.Err(); err != nil {
			return "", fmt.Errorf("read url: %w", err)
		}
		return "", nil
	}
	return strings.TrimSpace(s.Text()), nil
}

func printResponse(w io.Writer, resp *models.ScanResponse, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(resp)
	}

	h := resp.Harvest
	fmt.Fprintf(w, "# %s\n%s\n\n", resp.Page.Title, resp.Page.URL)
	fmt.Fprintf(w, "scroll: %d steps, height %d (%s)\n", h.ScrollSteps, h.PageHeight, h.ScrollStop)
	fmt.Fprintf(w, "images: %d candidates, %d acquired, %d duplicates, %d analysed (%s)\n",
		h.Candidates, h.Acquired, h.Duplicates, len(h.Images), h.Strategy)
	for _, f := range h.Failures {
		fmt.Fprintf(w, "  skipped #%d: %s\n", f.Index, f.Reason)
	}
	for _, warn := range resp.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	if resp.Report != "" {
		fmt.Fprintf(w, "\n%s\n", resp.Report)
	}
	if u := resp.LLMUsage; u != nil {
		fmt.Fprintf(w, "\ntokens: %d prompt + %d completion\n", u.PromptTokens, u.CompletionTokens)
	}
	return nil
}
