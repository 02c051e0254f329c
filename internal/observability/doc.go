// Package observability provides structured logging and request ID
// propagation for the request-shield service.
//
// Loggers are zap-based and injected through constructors. The request ID
// travels in the request context so any layer can decorate its logger with it.
package observability
