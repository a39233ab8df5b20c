package endpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/result"
)

// ListBody is the wire form of a list reply.
type ListBody struct {
	Data                 []map[string]any `json:"_data"`
	DatasetSize          *int             `json:"_dataset_size,omitempty"`
	EstimatedDatasetSize *int             `json:"_estimated_dataset_size,omitempty"`
}

// EncodeList converts a list result to its wire form.
func EncodeList(r *result.List) ListBody {
	data := r.Value
	if data == nil {
		data = []map[string]any{}
	}
	return ListBody{
		Data:                 data,
		DatasetSize:          r.Meta.DatasetSize,
		EstimatedDatasetSize: r.Meta.EstimatedDatasetSize,
	}
}

// errorBody is the part of a rendered error body needed to rebuild the
// collection on the calling side.
type errorBody struct {
	Errors []apierr.Entry `json:"errors"`
}

// reply is a transport-neutral response.
type reply struct {
	status  int
	body    []byte
	options map[string]string
}

func (r reply) success() bool {
	return r.status >= 200 && r.status < 300
}

// decodeErrors maps a failed reply onto errs. A JSON body with an errors
// array is taken as-is; anything else becomes a single platform.fault
// carrying the raw body.
func decodeErrors(rep reply, errs *apierr.Collection) {
	var eb errorBody
	if json.Unmarshal(rep.body, &eb) == nil && len(eb.Errors) > 0 {
		for _, e := range eb.Errors {
			errs.AddPrecompiledError(e.Code, e.Message, e.Reference)
		}
		return
	}
	msg := "Unexpected reply"
	if text := http.StatusText(rep.status); text != "" {
		msg = "Unexpected reply: " + text
	}
	errs.AddPrecompiledError(apierr.PlatformFault, msg, string(rep.body))
}

func malformedReply(rep reply, errs *apierr.Collection) {
	errs.AddPrecompiledError(apierr.PlatformFault, "Reply body is not valid JSON", string(rep.body))
}

func decodeMap(rep reply, errs *apierr.Collection) *result.Map {
	res := result.WithErrors[map[string]any](errs)
	res.Meta.Options = rep.options
	if !rep.success() {
		decodeErrors(rep, errs)
		return res
	}
	if len(bytes.TrimSpace(rep.body)) == 0 {
		res.Value = map[string]any{}
		return res
	}
	if err := json.Unmarshal(rep.body, &res.Value); err != nil {
		malformedReply(rep, errs)
		return res
	}
	if res.Value == nil {
		res.Value = map[string]any{}
	}
	return res
}

func decodeList(rep reply, errs *apierr.Collection) *result.List {
	res := result.WithErrors[[]map[string]any](errs)
	res.Meta.Options = rep.options
	if !rep.success() {
		decodeErrors(rep, errs)
		return res
	}
	var lb ListBody
	if err := json.Unmarshal(rep.body, &lb); err != nil {
		malformedReply(rep, errs)
		return res
	}
	res.Value = lb.Data
	res.Meta.DatasetSize = lb.DatasetSize
	res.Meta.EstimatedDatasetSize = lb.EstimatedDatasetSize
	return res
}

// encodeBody marshals a create or update body. A nil body is sent as an
// empty object, the same value a local dispatch hands to validators.
func encodeBody(body map[string]any) ([]byte, error) {
	if body == nil {
		body = map[string]any{}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return data, nil
}
