// Package middleware provides HTTP middleware: CORS policy and per-IP rate
// limiting.
package middleware
