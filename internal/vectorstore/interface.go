// Package vectorstore defines the vector/metadata store collaborator that
// underlies episodic and semantic memory persistence.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDocumentNotFound is returned when an exact-key lookup misses.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrEmptyVector indicates a document or query without a vector.
	ErrEmptyVector = errors.New("empty vector")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks a collection name against the naming rules.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Document is a record stored in the vector store.
//
// Vectors are supplied by the caller: episodes carry failure-signature
// vectors and rules carry their source cluster's centroid. The store does
// not embed text; the embedding model is the caller's concern.
type Document struct {
	// ID is the unique document identifier within its collection.
	ID string

	// Content is the text content of the document.
	Content string

	// Vector is the precomputed feature vector for similarity search.
	Vector []float32

	// Metadata contains additional key-value pairs for filtering.
	Metadata map[string]interface{}

	// Collection is the target collection name for this document.
	Collection string
}

// SearchResult is one ranked hit from a similarity search.
type SearchResult struct {
	// ID is the document identifier.
	ID string

	// Content is the document text content.
	Content string

	// Score is the similarity score (higher = more similar).
	Score float32

	// Metadata contains the document metadata.
	Metadata map[string]interface{}
}

// Store is the narrow persistence contract required by the memory stores
// and the retriever: put, get by exact key, and query by similarity.
//
// Implementations:
//   - ChromemStore: embedded chromem-go (default)
//   - QdrantStore: external Qdrant gRPC client
type Store interface {
	// Add writes documents to the store. All documents in one call must
	// target the same collection. Returns the stored document IDs.
	Add(ctx context.Context, docs []Document) ([]string, error)

	// Get retrieves a document by exact key.
	// Returns ErrDocumentNotFound if the key does not exist.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Search performs similarity search against a query vector, returning
	// up to k results ordered by similarity score (highest first). Filters
	// match document metadata; only documents matching ALL conditions are
	// returned. A missing collection yields an empty result, not an error.
	Search(ctx context.Context, collection string, vector []float32, k int, filters map[string]interface{}) ([]SearchResult, error)

	// Delete removes documents by their IDs from a collection.
	Delete(ctx context.Context, collection string, ids []string) error

	// CollectionExists reports whether a collection exists.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// Close releases store resources.
	Close() error
}

// convertMetadataToString converts metadata values to strings for backends
// that only support string payloads.
func convertMetadataToString(metadata map[string]interface{}) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// convertMetadataFromString widens a string metadata map back to the
// interface form used by the Store contract.
func convertMetadataFromString(metadata map[string]string) map[string]interface{} {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
