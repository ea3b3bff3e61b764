// Package app wires the activation service together and runs it.
//
// # Initialization Flow
//
//	1. Initialize OpenTelemetry from the telemetry configuration
//	2. Open the configured binding store
//	3. Build the binder with its metrics, tracer and store timeout
//	4. Set up the public router and the admin router
//	5. Create the public server and, when an admin port is set, the admin server
//
// # Usage
//
//	application, err := app.NewApplication(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// # Graceful Shutdown
//
// Run returns once ctx is cancelled (main cancels it on SIGINT or SIGTERM)
// or either server fails. Shutdown drains in-flight requests within the
// configured shutdown timeout, then closes the store and flushes telemetry.
package app
