// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Job attributes
	JobTypeKey     = "job.type"
	JobIDKey       = "job.id"
	JobStatusKey   = "job.status"
	JobDurationKey = "job.duration_ms"

	// Rule attributes
	RuleIDKey     = "rule.id"
	RuleNameKey   = "rule.name"
	RuleActionKey = "rule.action"

	// Asset attributes
	AssetIDKey   = "asset.id"
	AssetPathKey = "asset.path"

	// Tool attributes
	ToolNameKey     = "tool.name"
	ToolExitCodeKey = "tool.exit_code"

	// Transcoding attributes
	TranscodeInputCodecKey  = "transcode.input_codec"
	TranscodeOutputCodecKey = "transcode.output_codec"
	TranscodePresetKey      = "transcode.preset"
	TranscodeGPUEnabledKey  = "transcode.gpu_enabled"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// JobAttributes creates job-related span attributes.
func JobAttributes(jobType, jobID, status string, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobTypeKey, jobType),
		attribute.String(JobIDKey, jobID),
		attribute.String(JobStatusKey, status),
		attribute.Int64(JobDurationKey, durationMS),
	}
}

// RuleAttributes creates rule-execution span attributes. Empty fields are
// omitted.
func RuleAttributes(ruleID, ruleName, action string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if ruleID != "" {
		attrs = append(attrs, attribute.String(RuleIDKey, ruleID))
	}
	if ruleName != "" {
		attrs = append(attrs, attribute.String(RuleNameKey, ruleName))
	}
	if action != "" {
		attrs = append(attrs, attribute.String(RuleActionKey, action))
	}
	return attrs
}

// AssetAttributes creates asset-related span attributes.
func AssetAttributes(assetID, path string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AssetIDKey, assetID),
		attribute.String(AssetPathKey, path),
	}
}

// ToolAttributes creates external-tool span attributes.
func ToolAttributes(tool string, exitCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ToolNameKey, tool),
		attribute.Int(ToolExitCodeKey, exitCode),
	}
}

// TranscodeAttributes creates transcoding-related span attributes.
func TranscodeAttributes(inputCodec, outputCodec, preset string, gpuEnabled bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TranscodeInputCodecKey, inputCodec),
		attribute.String(TranscodeOutputCodecKey, outputCodec),
		attribute.String(TranscodePresetKey, preset),
		attribute.Bool(TranscodeGPUEnabledKey, gpuEnabled),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
