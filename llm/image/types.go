package image

// DefaultModel is used when a request does not name a model.
const DefaultModel = "gemini-2.5-flash-image-landscape"

// PlaceholderURL is a 1x1 PNG substituted when a response carries no image.
const PlaceholderURL = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR4nGNgYAAAAAMAASsJTYQAAA=="

// GenerationParams are optional per-request overrides.
type GenerationParams struct {
	Model string `json:"model,omitempty"`
}

// GenerationRequest is immutable once submitted.
type GenerationRequest struct {
	Prompt          string            `json:"prompt"`
	ReferenceImage  File              `json:"-"`
	ReferenceImages []File            `json:"-"`
	Params          *GenerationParams `json:"params,omitempty"`
}

// ModelOr returns the requested model, else fallback, else DefaultModel.
func (r *GenerationRequest) ModelOr(fallback string) string {
	switch {
	case r != nil && r.Params != nil && r.Params.Model != "":
		return r.Params.Model
	case fallback != "":
		return fallback
	default:
		return DefaultModel
	}
}

// GenerationResponse is created exactly once per completed request.
// Violation means the provider answered but no image could be extracted,
// in which case URL holds PlaceholderURL.
type GenerationResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Prompt    string `json:"prompt"`
	Timestamp int64  `json:"timestamp"`
	Violation bool   `json:"violation,omitempty"`
}
