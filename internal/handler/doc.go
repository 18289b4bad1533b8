// Package handler contains the HTTP request handlers for the microblog API.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements the http.Handler interface:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// Or more commonly, we use http.HandlerFunc, a function with the right signature
// that automatically satisfies the Handler interface. Chi's router accepts these directly.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming HTTP request (path params, query, JSON body)
//  2. Call the service layer
//  3. Write the HTTP response (status code, headers, body)
//
// Handlers hold no business rules. Who is asking comes from the context
// (set by auth.RequireAuth) and is passed to the service explicitly.
//
// Handlers are grouped by area: AuthHandler (sessions, reset, GitHub),
// UserHandler (/api/me and /api/users/{username}), PostHandler and FeedHandler.
package handler
