package domain

import "time"

// ImageRequest is the validated inbound request. ImageData holds the decoded
// bytes of the data URI, already normalized to PNG.
type ImageRequest struct {
	RequestID         string
	ImageData         []byte
	ImageContentType  string
	Prompt            string
	ProductSizeFactor float64
}

// StagedAsset is binary content written to object storage.
type StagedAsset struct {
	Key         string
	ContentType string
	Size        int
	RemoteURL   string
}

// ResultManifest summarizes one successful request. It is written once.
type ResultManifest struct {
	Timestamp         time.Time `json:"timestamp"`
	RequestID         string    `json:"requestId,omitempty"`
	Prompt            string    `json:"prompt"`
	ProductSizeFactor float64   `json:"productSize"`
	FinalImageURLs    []string  `json:"finalImageUrls"`
}
