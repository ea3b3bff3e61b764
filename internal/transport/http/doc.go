// Package http implements the HTTP handlers of the activation service.
//
// Handlers stay thin: they decode and validate the request, delegate to the
// license binder and translate its result into the response contract
//
//	POST /activate  {"activation_key": "...", "device_id": "..."}
//	             -> {"success": bool, "message": "..."}
//
// Status codes follow the activation outcome: 200 for both success
// outcomes, 400 for a missing field, 404 for an unknown key, 403 for a key
// bound to another device and 500 when the store cannot be reached.
//
// The admin handlers (/healthz and /metrics) are mounted on a separate
// listener so the public router answers every other path with the JSON 404.
package http
