package domain

import (
	"io"
	"strings"
)

const (
	DefaultProvider = "OpenAI"
	DefaultModel    = "gpt-4"
)

// ProviderOptions selects the backend's query-generation provider and model.
type ProviderOptions struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// WithDefaults fills blank fields from fallback, and from the fixed
// OpenAI/gpt-4 pair when fallback is blank too.
func (o ProviderOptions) WithDefaults(fallback ProviderOptions) ProviderOptions {
	o.Provider = firstNonBlank(o.Provider, fallback.Provider, DefaultProvider)
	o.Model = firstNonBlank(o.Model, fallback.Model, DefaultModel)
	return o
}

// DatasetFile is a tabular dataset picked by the user for upload.
type DatasetFile struct {
	Name    string
	Content io.Reader
	Size    int64
}

// UploadResult is the backend's acknowledgement of an uploaded dataset.
// DBPath is the opaque handle that scopes later questions.
type UploadResult struct {
	Message string `json:"message"`
	DBPath  string `json:"db_path"`
}

type NoticeVariant string

const (
	NoticeDefault     NoticeVariant = "default"
	NoticeDestructive NoticeVariant = "destructive"
)

// Notice is a transient, user-visible notification (a toast).
type Notice struct {
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Variant     NoticeVariant `json:"variant"`
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
