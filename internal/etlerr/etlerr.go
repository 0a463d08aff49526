// Package etlerr classifies pipeline failures by blast radius. Extraction
// and load errors are fatal to the unit that raised them, enrichment errors
// are recovered in-stage with fallback vectors, orchestration errors are
// fatal to the whole run.
package etlerr

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrExtraction    = errors.New("extraction failed")
	ErrEnrichment    = errors.New("enrichment failed")
	ErrLoad          = errors.New("load failed")
	ErrOrchestration = errors.New("orchestration failed")
)

func Extraction(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrExtraction)
}

func NewExtraction(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrExtraction)
}

func Enrichment(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrEnrichment)
}

func NewEnrichment(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrEnrichment)
}

func Load(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrLoad)
}

func NewLoad(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrLoad)
}

func Orchestration(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrOrchestration)
}

func NewOrchestration(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrOrchestration)
}

func IsExtraction(err error) bool    { return errors.Is(err, ErrExtraction) }
func IsEnrichment(err error) bool    { return errors.Is(err, ErrEnrichment) }
func IsLoad(err error) bool          { return errors.Is(err, ErrLoad) }
func IsOrchestration(err error) bool { return errors.Is(err, ErrOrchestration) }

// Kind names the taxonomy bucket for result records and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsExtraction(err):
		return "extraction"
	case IsEnrichment(err):
		return "enrichment"
	case IsLoad(err):
		return "load"
	case IsOrchestration(err):
		return "orchestration"
	default:
		return "unknown"
	}
}
