package domain

import "errors"

var (
	// ErrExtraction indicates the PDF could not be read. Ingestion of that
	// document is aborted before anything is written.
	ErrExtraction = errors.New("extraction failed")

	// ErrEmptyDocument indicates extraction succeeded but produced no text.
	ErrEmptyDocument = errors.New("document has no extractable text")

	// ErrEmbedding indicates the embedding service failed or is unreachable.
	ErrEmbedding = errors.New("embedding failed")

	// ErrStore indicates a vector store insert, search or delete failed.
	ErrStore = errors.New("vector store failure")

	// ErrDimensionMismatch indicates a vector does not fit the collection.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrRetrievalDegraded marks a query answered with an empty context
	// because search was unavailable.
	ErrRetrievalDegraded = errors.New("retrieval degraded")

	// ErrGeneration indicates the completion service failed.
	ErrGeneration = errors.New("generation failed")

	// ErrDuplicateName indicates two files of one batch map to the same
	// document name.
	ErrDuplicateName = errors.New("duplicate document name")

	ErrEmptyQuestion      = errors.New("question is empty")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrUnsupportedBackend = errors.New("unsupported backend")
)
