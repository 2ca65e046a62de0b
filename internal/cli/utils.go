// Package cli renders command results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/fstsettat/formabot/internal/indexer"
	"github.com/fstsettat/formabot/internal/models"
	"github.com/fstsettat/formabot/internal/search"
	"github.com/fstsettat/formabot/internal/server"
	"github.com/fstsettat/formabot/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// WriteSearchResults writes scored passages to w in the given format.
// Embeddings are never printed.
func WriteSearchResults(w io.Writer, query string, results []models.ScoredPassage, format OutputFormat) error {
	results = slices.Clone(results)
	for i := range results {
		results[i].Passage.Metadata = results[i].Passage.Metadata.WithoutEmbedding()
	}
	if format == OutputJSON {
		return writeJSON(w, map[string]any{"query": query, "total": len(results), "results": results})
	}
	fmt.Fprintf(w, "\nFound %d passages for %q\n\n", len(results), query)
	for i, r := range results {
		meta := r.Passage.Metadata
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | Formation: %s\n", i+1, r.Score, meta.String(models.KeyFormationID))
		fmt.Fprintf(w, "ID: %s\n", r.Passage.ID)
		if src := meta.String(models.KeySource); src != "" {
			fmt.Fprintf(w, "Source: %s\n", src)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Passage.Text, 200))
	}
	return nil
}

// WriteAnswer writes an ask response.
func WriteAnswer(w io.Writer, resp *search.Response, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nQ: %s\n\n%s\n\n", TruncateWords(resp.Question, 30), resp.Answer)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Formation: %s | Intent: %s | Documents: %d\n", resp.FormationID, resp.Intent, resp.DocumentsFound)
	if len(resp.Reactions) > 0 {
		fmt.Fprintf(w, "Reactions: %s\n", strings.Join(resp.Reactions, " "))
	}
	if resp.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", resp.Error)
	}
	return nil
}

// WriteRunResult writes an ingestion summary.
func WriteRunResult(w io.Writer, res *indexer.RunResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "Ingestion finished in %s\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Files:     %d (processed %d, cached %d, failed %d)\n", res.Files, res.Processed, res.Cached, res.Failed)
	fmt.Fprintf(w, "  Chunks:    %d (embedded %d, reused %d)\n", res.Chunks, res.Embedded, res.Reused)
	fmt.Fprintf(w, "  Store:     %d passages\n", res.StoreSize)
	if res.Removed > 0 {
		fmt.Fprintf(w, "  Removed:   %d withdrawn files\n", res.Removed)
	}
	for _, fe := range res.Errors {
		fmt.Fprintf(w, "  ! %s: %s\n", fe.Path, fe.Error)
	}
	return nil
}

// WriteStatus writes the system status.
func WriteStatus(w io.Writer, st *server.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Index size:      %d passages\n", st.IndexSize)
	if st.CatalogFiles != nil && st.CatalogChunks != nil {
		fmt.Fprintf(w, "Catalog:         %d files, %d chunks\n", *st.CatalogFiles, *st.CatalogChunks)
	}
	if st.KeywordDocs != nil {
		fmt.Fprintf(w, "Keyword index:   %d passages\n", *st.KeywordDocs)
	}
	fmt.Fprintf(w, "Cache:           %d processed, %d stage files, %s\n",
		st.Cache.ProcessedFiles, st.Cache.StageFiles, FormatBytes(st.Cache.TotalBytes))
	if st.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage:      %s\n", FormatBytes(*st.DiskUsageBytes))
	}
	if c := st.Config; c != nil {
		fmt.Fprintf(w, "Embedding:       %s/%s (%d dims)\n", c.EmbeddingProvider, c.EmbeddingModel, c.EmbeddingDimensions)
		fmt.Fprintf(w, "LLM:             %s/%s\n", c.LLMProvider, c.LLMModel)
		fmt.Fprintf(w, "Index type:      %s\n", c.IndexType)
		fmt.Fprintf(w, "Chunking:        %d chars, %d overlap\n", c.ChunkSize, c.ChunkOverlap)
		fmt.Fprintf(w, "Documents:       %s\n", c.DocumentsDir)
		fmt.Fprintf(w, "Store:           %s\n", c.StoreDir)
		fmt.Fprintf(w, "Cache dir:       %s\n", c.CacheDir)
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
