// Package log wraps zerolog with the field conventions used across the
// fabric subscriber: component, fabric, and worker_id. Call Init once at
// process start; every other package calls WithComponent/WithFabric off
// the package-level Logger rather than constructing its own.
package log
