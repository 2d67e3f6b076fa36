// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldRuleID    = "rule_id"
	FieldAssetID   = "asset_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAction    = "action"
	FieldJobType   = "job_type"
	FieldRole      = "role"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Media fields
	FieldCodec     = "codec"
	FieldContainer = "container"
	FieldDuration  = "duration_sec"
	FieldEncoder   = "encoder"

	// Path fields
	FieldPath       = "path"
	FieldSourcePath = "source_path"
	FieldTargetPath = "target_path"
)
