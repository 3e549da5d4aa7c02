// Package isapi maps accessd command kinds onto ISAPI requests.
//
// The translation is deliberately thin: each Kind has a fixed URL and
// method, and its payload is reshaped into the XML or JSON body the
// controller firmware expects. Execution is someone else's job; see
// dispatch.Driver.
package isapi
