package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/omnidex/omnidex/internal/index"
	"github.com/omnidex/omnidex/internal/model"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit       int
	offset      int
	provider    string
	contentType string
	facets      []string
	format      string // "text", "json"
	timeout     time.Duration
	debug       bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search across all indexed providers",
		Long: `Search the local index and realtime-capable providers.

Quoted phrases must match exactly; other words are ranked by relevance
with title matches weighted higher.

Examples:
  omnidex search "quarterly report"
  omnidex search meeting notes --provider work-files --limit 5
  omnidex search bug --type issue --facet provider_id --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Result offset for pagination")
	cmd.Flags().StringVarP(&opts.provider, "provider", "p", "", "Restrict to one provider")
	cmd.Flags().StringVarP(&opts.contentType, "type", "t", "", "Filter by content type (document, issue, ...)")
	cmd.Flags().StringSliceVar(&opts.facets, "facet", nil, "Facet field (repeatable, e.g. --facet provider_id)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Per-query federation budget (e.g. 500ms)")
	cmd.Flags().BoolVar(&opts.debug, "explain", false, "Include a query performance breakdown")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, queryText string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close(ctx) }()

	q := &model.SearchQuery{
		Query:   queryText,
		Limit:   opts.limit,
		Offset:  opts.offset,
		Timeout: opts.timeout,
		Debug:   opts.debug,
	}
	if opts.provider != "" {
		q.Filters = append(q.Filters, model.Filter{
			Field: index.FieldProviderID, Op: model.OpEquals, Value: opts.provider,
		})
	}
	if opts.contentType != "" {
		q.Filters = append(q.Filters, model.Filter{
			Field: index.FieldContentType, Op: model.OpEquals, Value: opts.contentType,
		})
	}
	for _, field := range opts.facets {
		q.Facets = append(q.Facets, model.FacetRequest{Field: field})
	}

	resp, err := eng.Search(ctx, q)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	return renderSearchText(cmd, resp)
}

func renderSearchText(cmd *cobra.Command, resp *model.SearchResponse) error {
	out := cmd.OutOrStdout()

	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}

	fmt.Fprintf(out, "%d results (%dms)\n\n", resp.TotalCount, resp.TookMS)
	for i, r := range resp.Results {
		fmt.Fprintf(out, "%2d. %s  [%s/%s]  score=%.2f\n", i+1, r.Title, r.ProviderID, r.ContentType, r.Score)
		if r.URL != "" {
			fmt.Fprintf(out, "    %s\n", r.URL)
		}
		if r.Summary != "" {
			fmt.Fprintf(out, "    %s\n", firstLine(r.Summary))
		}
		for _, h := range r.Highlights {
			for _, frag := range h.Fragments {
				fmt.Fprintf(out, "    … %s\n", firstLine(frag))
			}
		}
	}

	for _, facet := range resp.Facets {
		fmt.Fprintf(out, "\n%s:\n", facet.Field)
		for _, v := range facet.Values {
			fmt.Fprintf(out, "  %-24s %d\n", v.Value, v.Count)
		}
	}

	if resp.Debug != nil {
		fmt.Fprintf(out, "\nparse=%dms exec=%dms merge=%dms\n",
			resp.Debug.Breakdown.ParseMS, resp.Debug.Breakdown.ExecMS, resp.Debug.MergeMS)
		for _, t := range resp.Debug.Providers {
			status := fmt.Sprintf("%d results in %dms", t.ResultCount, t.ExecutionTimeMS)
			if t.TimedOut {
				status = "timed out"
			}
			fmt.Fprintf(out, "  provider %s: %s\n", t.ProviderID, status)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
