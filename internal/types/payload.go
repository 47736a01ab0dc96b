package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Input modes for rewrite and cluster submissions
const (
	InputModeURL    = "url"
	InputModeManual = "manual"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Payload is a decoded, pipeline-specific submission input
type Payload interface {
	PrimaryKeyword() string
	Validate() error
}

// ScratchInput is the input for creating a new article from a site's context
type ScratchInput struct {
	SiteURL       string   `json:"site_url" validate:"required,url"`
	Domain        string   `json:"domain" validate:"required"`
	Guideline     string   `json:"guideline" validate:"required"`
	Keyword       string   `json:"keyword" validate:"required"`
	InternalLinks []string `json:"internal_links,omitempty" validate:"dive,url"`
	ExternalLinks []string `json:"external_links,omitempty" validate:"dive,url"`
	UseBrowser    bool     `json:"use_browser,omitempty"`
}

// PrimaryKeyword returns the target keyword
func (in *ScratchInput) PrimaryKeyword() string { return in.Keyword }

// Validate validates the ScratchInput using the validator.
func (in *ScratchInput) Validate() error {
	return toValidationError(validate.Struct(in))
}

// ArticleSource identifies an existing article either by URL or by pasted content
type ArticleSource struct {
	InputMode      string   `json:"input_mode,omitempty" validate:"omitempty,oneof=url manual"`
	ArticleURL     string   `json:"article_url,omitempty" validate:"required_if=InputMode url"`
	ArticleTitle   string   `json:"article_title,omitempty" validate:"required_if=InputMode manual"`
	ArticleContent string   `json:"article_content,omitempty" validate:"required_if=InputMode manual"`
	Keyword        string   `json:"keyword" validate:"required"`
	InternalLinks  []string `json:"internal_links,omitempty" validate:"dive,url"`
	UseBrowser     bool     `json:"use_browser,omitempty"`
}

func (s *ArticleSource) normalize() {
	if s.InputMode == "" {
		s.InputMode = InputModeURL
	}
}

func (s *ArticleSource) validate() error {
	s.normalize()
	if err := validate.Struct(s); err != nil {
		return toValidationError(err)
	}
	if s.InputMode == InputModeURL {
		if err := validate.Var(s.ArticleURL, "url"); err != nil {
			return &ValidationError{Field: "article_url", Message: "must be a valid URL"}
		}
	}
	return nil
}

// RewriteInput is the input for rewriting an existing article
type RewriteInput struct {
	ArticleSource
}

// PrimaryKeyword returns the target keyword
func (in *RewriteInput) PrimaryKeyword() string { return in.Keyword }

// Validate validates the RewriteInput
func (in *RewriteInput) Validate() error { return in.validate() }

// ClusterInput is the input for building a pillar article plus satellites
type ClusterInput struct {
	ArticleSource
}

// PrimaryKeyword returns the target keyword
func (in *ClusterInput) PrimaryKeyword() string { return in.Keyword }

// Validate validates the ClusterInput
func (in *ClusterInput) Validate() error { return in.validate() }

// DecodePayload decodes and validates a raw submission for the given pipeline
func DecodePayload(pipeline PipelineType, raw json.RawMessage) (Payload, error) {
	var payload Payload
	switch pipeline {
	case PipelineScratch:
		payload = &ScratchInput{}
	case PipelineRewrite:
		payload = &RewriteInput{}
	case PipelineCluster:
		payload = &ClusterInput{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidPipeline, pipeline)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil, ErrEmptyInput
	}

	if err := json.Unmarshal(trimmed, payload); err != nil {
		return nil, &ValidationError{Field: "input", Message: "malformed JSON: " + err.Error()}
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	if validationErrors, ok := err.(validator.ValidationErrors); ok && len(validationErrors) > 0 {
		fe := validationErrors[0]
		return &ValidationError{
			Field:   fe.Field(),
			Message: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
		}
	}
	return &ValidationError{Field: "input", Message: err.Error()}
}
