package oramacore

type ResponseType string

const (
	ResponseTypePartialText ResponseType = "partial_text"
	ResponseTypeEnd         ResponseType = "end"
	ResponseTypeError       ResponseType = "error"
)

// Response represents a communication unit from a streaming answer call to
// the caller. Partial responses carry the full accumulated text so far, not
// a delta, and are only emitted for distinct values.
type Response struct {
	Content string
	Type    ResponseType
}
