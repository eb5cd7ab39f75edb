// Package web serves the operator page for binding roles to devices.
//
// The page and its script are embedded into the binary with go:embed. It
// lists attached devices live over the /api/ws feed and posts the edited
// rule set to /api/rules.
package web
