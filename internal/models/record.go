package models

// ProcessedFileRecord tracks one ingested file. The content hash, not the
// modification time, decides whether the file must be reprocessed.
type ProcessedFileRecord struct {
	FilePath    string         `json:"-"`
	ContentHash string         `json:"hash"`
	ProcessedAt string         `json:"processed_at"`
	Metadata    map[string]any `json:"metadata"`
}
