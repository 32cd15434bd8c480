// Package middleware provides the gin middleware stack: CORS, per-IP rate
// limiting, request IDs and access logging.
package middleware
