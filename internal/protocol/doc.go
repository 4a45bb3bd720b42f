// Package protocol defines the request/response envelope and the dispatcher
// that routes envelopes to providers.
//
// # Envelope
//
// Requests are versioned JSON objects:
//
//	{"v":"1","id":"req-1","method":"system_info.inspect","params":{"info_type":"cpu"}}
//
// Responses echo the correlation id and carry exactly one of result or error:
//
//	{"v":"1","id":"req-1","result":{...}}
//	{"v":"1","id":"req-1","error":{"code":-32601,"message":"..."}}
//
// # Dispatch
//
// The dispatcher validates envelope shape, resolves the method against the
// registry, validates arguments against the capability schema, and runs the
// provider under the execution timeout. It returns exactly one response for
// any input; provider panics and timeouts become error envelopes, never
// crashes or silence.
package protocol
