// Package action names the five resource actions and their HTTP mapping.
package action

import (
	"fmt"
	"net/http"
)

// Action is one of the five operations a resource endpoint offers.
type Action string

const (
	List   Action = "list"
	Show   Action = "show"
	Create Action = "create"
	Update Action = "update"
	Delete Action = "delete"
)

// All lists every action in canonical order.
var All = []Action{List, Show, Create, Update, Delete}

// Method returns the HTTP method used to invoke the action.
func (a Action) Method() string {
	switch a {
	case List, Show:
		return http.MethodGet
	case Create:
		return http.MethodPost
	case Update:
		return http.MethodPatch
	case Delete:
		return http.MethodDelete
	default:
		return ""
	}
}

// TakesIdent reports whether the action addresses one resource instance.
func (a Action) TakesIdent() bool {
	return a == Show || a == Update || a == Delete
}

// TakesBody reports whether the action sends a request body.
func (a Action) TakesBody() bool {
	return a == Create || a == Update
}

// Valid reports whether a is one of the five known actions.
func (a Action) Valid() bool {
	return a.Method() != ""
}

// FromRequest maps an inbound HTTP method plus ident presence to an action.
func FromRequest(method string, hasIdent bool) (Action, error) {
	switch {
	case method == http.MethodGet && hasIdent:
		return Show, nil
	case method == http.MethodGet:
		return List, nil
	case method == http.MethodPost && !hasIdent:
		return Create, nil
	case method == http.MethodPatch && hasIdent:
		return Update, nil
	case method == http.MethodDelete && hasIdent:
		return Delete, nil
	default:
		return "", fmt.Errorf("no action for %s (ident: %t)", method, hasIdent)
	}
}
