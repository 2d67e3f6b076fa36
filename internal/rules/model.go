// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package rules matches pipeline events against user-defined rules and
// drives their actions through the job queue. A rule is a JSON document:
// a trigger, an optional condition list and an ordered action list, plus
// per-rule guardrail overrides.
package rules

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/streamops/internal/guard"
	"github.com/ManuGH/streamops/internal/opserr"
)

// Event is what rules match against: an event type, the path it concerns
// and a payload for condition lookups. Payload keys shadow the synthetic
// top-level fields (type, path, asset_id) during lookup.
type Event struct {
	Type    string         `json:"type"`
	AssetID string         `json:"asset_id,omitempty"`
	Path    string         `json:"path,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// doc flattens the event into one lookup document for condition fields.
func (e Event) doc() map[string]any {
	d := map[string]any{
		"type":     e.Type,
		"path":     e.Path,
		"asset_id": e.AssetID,
	}
	for k, v := range e.Payload {
		d[k] = v
	}
	return d
}

// Rule is the stored document. Name, priority and enabled are mirrored
// into sortable columns; the rest lives in the JSON doc.
type Rule struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Priority       int             `json:"priority"`
	Enabled        bool            `json:"enabled"`
	Trigger        Trigger         `json:"trigger"`
	Conditions     []Condition     `json:"conditions,omitempty"`
	Actions        []Action        `json:"actions"`
	Guardrails     guard.Overrides `json:"guardrails,omitempty"`
	QuietPeriodSec int             `json:"quiet_period_sec,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Trigger selects events. Either Type (with optional PathGlob) or Any is
// set; with Any, the first alternative that matches on its own wins.
type Trigger struct {
	Type     string       `json:"type,omitempty"`
	PathGlob string       `json:"path_glob,omitempty"`
	Any      []TriggerAlt `json:"any,omitempty"`
}

type TriggerAlt struct {
	Event    string `json:"event"`
	PathGlob string `json:"path_glob,omitempty"`
}

// Condition is one field test. All conditions of a rule AND together.
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value,omitempty"`
}

// Action names a job type with its parameters. String parameter values may
// carry template tokens; the executor expands them against the active
// artifact right before the job is queued.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Condition operators after normalization.
const (
	OpEq    = "eq"
	OpNe    = "ne"
	OpGt    = "gt"
	OpGte   = "gte"
	OpLt    = "lt"
	OpLte   = "lte"
	OpIn    = "in"
	OpRegex = "regex"
	OpGlob  = "glob"
)

// normalizeOp accepts both the bare names and the $-prefixed forms rule
// files commonly use, plus "=" and "==" for equality.
func normalizeOp(op string) (string, bool) {
	op = strings.TrimPrefix(strings.TrimSpace(op), "$")
	switch op {
	case "=", "==":
		return OpEq, true
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpRegex, OpGlob:
		return op, true
	case "!=":
		return OpNe, true
	}
	return "", false
}

// Validate checks the rule document and normalizes condition operators in
// place. Globs and regexes are compiled here so a broken pattern fails at
// save time, not mid-pipeline.
func Validate(r *Rule) error {
	const op = "rules.validate"
	if strings.TrimSpace(r.Name) == "" {
		return opserr.New(opserr.KindValidation, op, "rule name is required")
	}

	hasType := r.Trigger.Type != ""
	hasAny := len(r.Trigger.Any) > 0
	if hasType == hasAny {
		return opserr.New(opserr.KindValidation, op, "trigger needs exactly one of type or any[]")
	}
	if err := checkGlob(r.Trigger.PathGlob); err != nil {
		return err
	}
	for i, alt := range r.Trigger.Any {
		if alt.Event == "" {
			return opserr.Newf(opserr.KindValidation, op, "trigger.any[%d] is missing its event", i)
		}
		if err := checkGlob(alt.PathGlob); err != nil {
			return err
		}
	}

	for i := range r.Conditions {
		c := &r.Conditions[i]
		if c.Field == "" {
			return opserr.Newf(opserr.KindValidation, op, "condition %d is missing its field", i)
		}
		norm, ok := normalizeOp(c.Op)
		if !ok {
			return opserr.Newf(opserr.KindValidation, op, "condition %d: unknown operator %q", i, c.Op)
		}
		c.Op = norm
		switch norm {
		case OpIn:
			if _, ok := c.Value.([]any); !ok {
				return opserr.Newf(opserr.KindValidation, op, "condition %d: in wants an array value", i)
			}
		case OpRegex:
			pat, ok := c.Value.(string)
			if !ok {
				return opserr.Newf(opserr.KindValidation, op, "condition %d: regex wants a string pattern", i)
			}
			if _, err := regexp.Compile(pat); err != nil {
				return opserr.Wrap(err, opserr.KindValidation, op, "condition "+strconv.Itoa(i))
			}
		case OpGlob:
			pat, ok := c.Value.(string)
			if !ok {
				return opserr.Newf(opserr.KindValidation, op, "condition %d: glob wants a string pattern", i)
			}
			if err := checkGlob(pat); err != nil {
				return err
			}
		}
	}

	if len(r.Actions) == 0 {
		return opserr.New(opserr.KindValidation, op, "rule needs at least one action")
	}
	for i, a := range r.Actions {
		if a.Type == "" {
			return opserr.Newf(opserr.KindValidation, op, "action %d is missing its type", i)
		}
	}
	return nil
}

func checkGlob(pattern string) error {
	if pattern == "" {
		return nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return opserr.Newf(opserr.KindValidation, "rules.validate", "bad glob %q", pattern)
	}
	return nil
}

// Artifact is a file the rule pipeline has its hands on.
type Artifact struct {
	Path string
	Ext  string
	Meta map[string]any
}

func NewArtifact(path string) Artifact {
	return Artifact{Path: path, Ext: filepath.Ext(path)}
}

// RuleContext threads state through one rule execution: the original
// artifact, the currently active one and every predecessor in between.
// Template tokens always resolve against Active.
type RuleContext struct {
	Original Artifact
	Active   Artifact
	History  []Artifact
	Vars     map[string]string
}

// NewRuleContext starts a context on the event's path. Scalar payload
// fields become template vars.
func NewRuleContext(ev Event) *RuleContext {
	art := NewArtifact(ev.Path)
	vars := map[string]string{
		"asset_id": ev.AssetID,
		"event":    ev.Type,
	}
	for k, v := range ev.Payload {
		switch t := v.(type) {
		case string:
			vars[k] = t
		case bool:
			vars[k] = strconv.FormatBool(t)
		case float64:
			vars[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			vars[k] = strconv.Itoa(t)
		case int64:
			vars[k] = strconv.FormatInt(t, 10)
		}
	}
	return &RuleContext{Original: art, Active: art, Vars: vars}
}

// UpdateActive makes a the new active artifact. The old one goes to
// history only when the path actually changed, so a no-op action does not
// pad the trail.
func (c *RuleContext) UpdateActive(a Artifact) {
	if a.Path == c.Active.Path {
		c.Active = a
		return
	}
	c.History = append(c.History, c.Active)
	c.Active = a
}
