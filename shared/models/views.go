package models

// HomeView is the model of the home page. The form posts the request token
// back under AntiforgeryField.
type HomeView struct {
	AntiforgeryField string
	AntiforgeryToken string
}

// ErrorViewModel is rendered by the error page.
type ErrorViewModel struct {
	RequestID string
}

func (m ErrorViewModel) ShowRequestID() bool {
	return m.RequestID != ""
}

// CachedPage is the stored form of a rendered response in the output cache.
type CachedPage struct {
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}
