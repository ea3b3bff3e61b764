package api

// ActivationResponse is the body of every /activate response, successful or
// not.
type ActivationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Success messages
const (
	MessageActivated        = "Activation successful: Key activated for this device."
	MessageAlreadyActivated = "Activation successful: Key already activated on this device."
)

// HealthResponse is served by the admin /healthz endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Store   string `json:"store"`
	Version string `json:"version"`
	Error   string `json:"error,omitempty"`
}
