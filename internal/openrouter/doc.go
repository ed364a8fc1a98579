// Package openrouter is a minimal client for the OpenRouter
// chat-completions API.
//
// Each Complete call issues one bounded-wait HTTPS POST and returns the
// first choice's message content. Non-2xx responses come back as a
// *StatusError carrying the status code and response body; callers match
// it with errors.As to distinguish provider rejections from transport
// failures. Calls are never retried.
package openrouter
