package directive

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// FeedbackType is the envelope type of feedbacks. Directives use their Kind.
const FeedbackType = "Feedback"

// Envelope is the unit carried by a Channel.
type Envelope struct {
	Key     string `json:"key"`
	Type    string `json:"type"`
	Payload []byte `json:"payload"`
}

// Codec turns messages into envelopes and back.
type Codec interface {
	EncodeDirective(d Directive) (Envelope, error)
	DecodeDirective(e Envelope) (Directive, error)
	EncodeFeedback(f *Feedback) (Envelope, error)
	DecodeFeedback(e Envelope) (*Feedback, error)
}

// JSONCodec encodes the payloads as JSON.
type JSONCodec struct{}

func (JSONCodec) EncodeDirective(d Directive) (Envelope, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "encoding directive %s", d.DirectiveKey())
	}
	return Envelope{Key: d.DirectiveKey(), Type: string(d.Kind()), Payload: payload}, nil
}

func (JSONCodec) DecodeDirective(e Envelope) (Directive, error) {
	var d Directive
	switch Kind(e.Type) {
	case FactoryAssignmentKind:
		d = &FactoryAssignmentDirective{}
	case MinionsCreationPreparationKind:
		d = &MinionsCreationPreparationDirective{}
	case MinionsCreationKind:
		d = &MinionsCreationDirective{}
	case MinionsStartKind:
		d = &MinionsStartDirective{}
	case MinionsStartSingletonsKind:
		d = &MinionsStartSingletonsDirective{}
	case CampaignScenarioShutdownKind:
		d = &CampaignScenarioShutdownDirective{}
	case CampaignShutdownKind:
		d = &CampaignShutdownDirective{}
	case CampaignAbortKind:
		d = &CampaignAbortDirective{}
	default:
		return nil, errors.Errorf("envelope %s has unknown directive type %q", e.Key, e.Type)
	}
	if err := json.Unmarshal(e.Payload, d); err != nil {
		return nil, errors.Wrapf(err, "decoding directive %s", e.Key)
	}
	return d, nil
}

func (JSONCodec) EncodeFeedback(f *Feedback) (Envelope, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "encoding feedback %s", f.Key)
	}
	return Envelope{Key: f.Key, Type: FeedbackType, Payload: payload}, nil
}

func (JSONCodec) DecodeFeedback(e Envelope) (*Feedback, error) {
	if e.Type != FeedbackType {
		return nil, errors.Errorf("envelope %s is a %q, not a feedback", e.Key, e.Type)
	}
	f := &Feedback{}
	if err := json.Unmarshal(e.Payload, f); err != nil {
		return nil, errors.Wrapf(err, "decoding feedback %s", e.Key)
	}
	return f, nil
}

// EncodeStartDefinitions turns the start definitions into list values of a registry.
func EncodeStartDefinitions(definitions []MinionStartDefinition) ([]string, error) {
	values := make([]string, len(definitions))
	for i, definition := range definitions {
		value, err := json.Marshal(definition)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		values[i] = string(value)
	}
	return values, nil
}

func DecodeStartDefinitions(values []string) ([]MinionStartDefinition, error) {
	definitions := make([]MinionStartDefinition, len(values))
	for i, value := range values {
		if err := json.Unmarshal([]byte(value), &definitions[i]); err != nil {
			return nil, errors.Wrapf(err, "decoding start definition %d", i)
		}
	}
	return definitions, nil
}
