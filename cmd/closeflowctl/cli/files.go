package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/odyssey-erp/closeflow/internal/backend"
)

// FilesOptions defines the flags of the files command.
type FilesOptions struct {
	Entity   string
	Category string
	Output
}

// FilesCommand lists stored files by category.
func (c *OpsCLI) FilesCommand(ctx context.Context, opts FilesOptions) int {
	opts.defaults()
	entity := strings.TrimSpace(opts.Entity)
	if entity == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "files: --entity is required")
		return ExitFailure
	}
	listing, err := c.backend.ListFiles(ctx, entity)
	if err != nil {
		return opts.fail("files", err)
	}
	if opts.Category != "" {
		listing = backend.FileListing{opts.Category: listing[opts.Category]}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(listing); err != nil {
			return opts.fail("files", fmt.Errorf("encode json: %w", err))
		}
		return ExitOK
	}

	categories := make([]string, 0, len(listing))
	for cat := range listing {
		categories = append(categories, cat)
	}
	sort.Strings(categories)
	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CATEGORY\tFILE\tSIZE\tMODIFIED")
	for _, cat := range categories {
		for _, f := range listing[cat] {
			modified := f.ModifiedAt
			if modified == "" {
				modified = f.GeneratedAt
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cat, f.Filename, humanSize(f.SizeBytes), modified)
		}
	}
	_ = tw.Flush()
	return ExitOK
}

func humanSize(n int64) string {
	switch {
	case n <= 0:
		return "-"
	case n < 1<<10:
		return fmt.Sprintf("%d B", n)
	case n < 1<<20:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	}
}
