package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is the registry entry written once per ingestion.
type Document struct {
	DocID          string    `json:"docId"`
	Filename       string    `json:"filename"`
	DocType        string    `json:"docType"`
	BlobName       string    `json:"blobName"`
	AuthorityLevel string    `json:"authorityLevel"`
	ChunkCount     int       `json:"chunks"`
	IngestedAt     time.Time `json:"ingestedAt"`
}
