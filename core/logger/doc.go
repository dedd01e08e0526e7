// Package logger is a standardized event logging framework for the
// interpreter. Events are written as newline delimited JSON objects.
package logger
