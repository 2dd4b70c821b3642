// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Every handler should use these helpers instead of writing raw
// http.ResponseWriter calls. Errors always carry a "detail" string so clients
// can show a single message regardless of the endpoint.
package httputil
