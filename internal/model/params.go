package model

import (
	"encoding/json"
	"fmt"
)

// ParamsFromJSON decodes the raw parameter bag submitted by a caller into
// the validated struct for the given collection type. A missing or null
// body yields the type's zero-value parameters.
func ParamsFromJSON(ct CollectionType, raw json.RawMessage) (JobParams, error) {
	var params JobParams
	switch ct {
	case CollectionProperty:
		var p PropertyParams
		if err := unmarshalParams(ct, raw, &p); err != nil {
			return nil, err
		}
		params = p
	case CollectionOwnerHistory:
		var p OwnerHistoryParams
		if err := unmarshalParams(ct, raw, &p); err != nil {
			return nil, err
		}
		params = p
	case CollectionTaxRecords:
		var p TaxRecordParams
		if err := unmarshalParams(ct, raw, &p); err != nil {
			return nil, err
		}
		params = p
	default:
		return nil, fmt.Errorf("unknown collection type: %q", ct)
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

func unmarshalParams(ct CollectionType, raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid params for %s: %w", ct, err)
	}
	return nil
}
