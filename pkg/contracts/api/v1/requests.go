// Package api contains the wire contract of the activation service.
// Version v1 is the only API version.
package api

// ActivationRequest is the body of POST /activate.
type ActivationRequest struct {
	ActivationKey string `json:"activation_key" validate:"required"`
	DeviceID      string `json:"device_id" validate:"required"`
}
