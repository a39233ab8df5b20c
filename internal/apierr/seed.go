package apierr

import "net/http"

// Codes used directly by the transport and orchestration layers.
const (
	PlatformNotFound         = "platform.not_found"
	PlatformMethodNotAllowed = "platform.method_not_allowed"
	PlatformMalformed        = "platform.malformed"
	PlatformForbidden        = "platform.forbidden"
	PlatformFault            = "platform.fault"
	PlatformInvalidSession   = "platform.invalid_session"
	PlatformTimeout          = "platform.timeout"

	GenericNotFound             = "generic.not_found"
	GenericContemporaryExists   = "generic.contemporary_exists"
	GenericMalformed            = "generic.malformed"
	GenericRequiredFieldMissing = "generic.required_field_missing"
	GenericInvalidString        = "generic.invalid_string"
	GenericInvalidInteger       = "generic.invalid_integer"
	GenericInvalidUUID          = "generic.invalid_uuid"
	GenericInvalidArray         = "generic.invalid_array"
	GenericInvalidDuplication   = "generic.invalid_duplication"
	GenericInvalidState         = "generic.invalid_state"
	GenericInvalidParameters    = "generic.invalid_parameters"
)

// typeChecks are the generic.invalid_<type> codes, all keyed by field_name.
var typeChecks = []struct{ name, label string }{
	{"string", "string"},
	{"integer", "integer"},
	{"float", "float"},
	{"decimal", "decimal"},
	{"boolean", "boolean"},
	{"date", "ISO 8601 date"},
	{"time", "ISO 8601 time"},
	{"datetime", "ISO 8601 date-time"},
	{"array", "array"},
	{"object", "object"},
	{"uuid", "UUID"},
	{"hash", "hash"},
}

func seed() map[string][]Description {
	platform := []Description{
		{Name: "not_found", Status: http.StatusNotFound, Message: "Not found", Required: []string{"entity_name"}},
		{Name: "method_not_allowed", Status: http.StatusMethodNotAllowed, Message: "Method not allowed"},
		{Name: "malformed", Status: http.StatusUnprocessableEntity, Message: "Malformed request"},
		{Name: "forbidden", Status: http.StatusForbidden, Message: "Action not authorized"},
		{Name: "fault", Status: http.StatusInternalServerError, Message: "Internal error"},
		{Name: "invalid_session", Status: http.StatusUnauthorized, Message: "Invalid session"},
		{Name: "timeout", Status: http.StatusRequestTimeout, Message: "Request timeout"},
	}

	generic := []Description{
		{Name: "not_found", Status: http.StatusNotFound, Message: "Resource not found", Required: []string{"ident"}},
		{Name: "contemporary_exists", Status: http.StatusNotFound, Message: "Contemporary record exists", Required: []string{"ident"}},
		{Name: "malformed", Status: http.StatusUnprocessableEntity, Message: "Malformed payload"},
		{Name: "required_field_missing", Status: http.StatusUnprocessableEntity, Message: "Field `{field_name}` is required", Required: []string{"field_name"}},
		{Name: "invalid_duplication", Status: http.StatusUnprocessableEntity, Message: "Field `{field_name}` does not allow duplicates", Required: []string{"field_name"}},
		{Name: "invalid_state", Status: http.StatusUnprocessableEntity, Message: "State transition not allowed", Required: []string{"destination_state"}},
		{Name: "invalid_parameters", Status: http.StatusUnprocessableEntity, Message: "Invalid parameters"},
		{Name: "mutually_exclusive_parameters", Status: http.StatusUnprocessableEntity, Message: "Mutually exclusive parameters"},
	}
	for _, tc := range typeChecks {
		generic = append(generic, Description{
			Name:     "invalid_" + tc.name,
			Status:   http.StatusUnprocessableEntity,
			Message:  "Field `{field_name}` is an invalid " + tc.label,
			Required: []string{"field_name"},
		})
	}

	return map[string][]Description{
		"platform": platform,
		"generic":  generic,
	}
}
