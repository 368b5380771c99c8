// Package translator renders a code unit plus its canonical property set into
// a single formal-language artifact for one engine. Translators differ in
// surface syntax only: every obligation becomes a goal and every assumption a
// hypothesis, with the property text carried in a machine-readable manifest.
package translator

import (
	"context"
	"errors"
	"fmt"

	"argus/internal/extractor"
	"argus/internal/property"
	"argus/internal/route"
)

// ErrTranslation is the category sentinel for TranslationError.
var ErrTranslation = errors.New("translation failed")

// TranslationError is a recoverable tooling failure: the unit could not be
// rendered, so nothing about it can be proved.
type TranslationError struct {
	Translator route.TranslatorKind
	Reason     string
	Err        error
}

func (e *TranslationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s translator: %s: %v", e.Translator, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s translator: %s", e.Translator, e.Reason)
}

func (e *TranslationError) Unwrap() error {
	if e.Err != nil {
		return errors.Join(ErrTranslation, e.Err)
	}
	return ErrTranslation
}

func newError(k route.TranslatorKind, format string, args ...any) *TranslationError {
	return &TranslationError{Translator: k, Reason: fmt.Sprintf(format, args...)}
}

// GoalSite maps source lines of an artifact to the obligation they encode.
type GoalSite struct {
	ObligationID string `json:"obligation_id"`
	Lines        []int  `json:"lines"`
}

// Artifact is the rendered source for one attempt.
type Artifact struct {
	Engine          route.Engine         `json:"engine"`
	Translator      route.TranslatorKind `json:"translator"`
	Function        string               `json:"function"`
	Source          string               `json:"source"`
	PropertySetHash string               `json:"property_set_hash"`
	Goals           []GoalSite           `json:"goals"`
	// RawOutput holds reasoning-provider text when one was consulted.
	RawOutput string `json:"raw_output,omitempty"`
}

// ObligationAt returns the obligations whose goal sites include line.
func (a *Artifact) ObligationAt(line int) []string {
	var out []string
	for _, g := range a.Goals {
		for _, l := range g.Lines {
			if l == line {
				out = append(out, g.ObligationID)
				break
			}
		}
	}
	return out
}

// Translator renders one artifact.
type Translator interface {
	Kind() route.TranslatorKind
	Translate(ctx context.Context, u *extractor.CodeUnit, set *property.Set) (*Artifact, error)
}

// Registry maps each translator kind to its implementation.
type Registry struct {
	translators map[route.TranslatorKind]Translator
}

func NewRegistry(ts ...Translator) *Registry {
	r := &Registry{translators: map[route.TranslatorKind]Translator{}}
	for _, t := range ts {
		r.translators[t.Kind()] = t
	}
	return r
}

// For returns the translator for k. There is no fallback to another kind.
func (r *Registry) For(k route.TranslatorKind) (Translator, error) {
	t, ok := r.translators[k]
	if !ok {
		return nil, newError(k, "no translator registered")
	}
	return t, nil
}
