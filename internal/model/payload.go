package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

type JobKind string

const (
	JobText     JobKind = "text"
	JobProposta JobKind = "proposta"
	JobContrato JobKind = "contrato"
)

func (k JobKind) IsDocument() bool {
	return k == JobProposta || k == JobContrato
}

// PayloadMeta makes a stored payload self-describing for audit and correlation.
type PayloadMeta struct {
	IdempotencyKey    string         `json:"idempotencyKey"`
	InternalMessageID string         `json:"internalMessageId"`
	RetryOf           *int64         `json:"retryOf,omitempty"`
	ContentHash       string         `json:"contentHash,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

type TextContent struct {
	Message string `json:"message"`
}

type DocumentContent struct {
	OrcamentoID string `json:"orcamentoId"`
	DocumentURL string `json:"documentUrl"`
	Message     string `json:"message"`
}

// Payload is a tagged variant: Text is set for JobText, Document for the
// document kinds. Anything else fails to decode.
type Payload struct {
	Kind     JobKind
	Meta     PayloadMeta
	Text     *TextContent
	Document *DocumentContent
}

var ErrMalformedPayload = errors.New("malformed payload")

type payloadWire struct {
	Kind     JobKind          `json:"kind"`
	Meta     PayloadMeta      `json:"meta"`
	Text     *TextContent     `json:"text,omitempty"`
	Document *DocumentContent `json:"document,omitempty"`
}

func (p Payload) Validate() error {
	switch p.Kind {
	case JobText:
		if p.Text == nil || p.Document != nil {
			return fmt.Errorf("%w: text payload requires text content only", ErrMalformedPayload)
		}
	case JobProposta, JobContrato:
		if p.Document == nil || p.Text != nil {
			return fmt.Errorf("%w: %s payload requires document content only", ErrMalformedPayload, p.Kind)
		}
		if p.Document.OrcamentoID == "" {
			return fmt.Errorf("%w: %s payload missing orcamentoId", ErrMalformedPayload, p.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedPayload, p.Kind)
	}
	return nil
}

// Message is the text handed to the bridge.
func (p Payload) Message() string {
	switch {
	case p.Text != nil:
		return p.Text.Message
	case p.Document != nil:
		return p.Document.Message
	}
	return ""
}

func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(payloadWire{
		Kind:     p.Kind,
		Meta:     p.Meta,
		Text:     p.Text,
		Document: p.Document,
	})
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	var w payloadWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	decoded := Payload{Kind: w.Kind, Meta: w.Meta, Text: w.Text, Document: w.Document}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*p = decoded
	return nil
}

func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			return Payload{}, err
		}
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return p, nil
}
