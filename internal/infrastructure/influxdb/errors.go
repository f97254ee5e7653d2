package influxdb

import "errors"

// Errors returned by the telemetry client. Compare with errors.Is.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned by Connect when the server does not
	// answer its ping or reports itself unhealthy.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps every asynchronous write error passed to the
	// SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
