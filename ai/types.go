package ai

import "errors"

// TopicKinds defines the valid categories for extracted topics.
var TopicKinds = []string{
	"concept",
	"event",
	"formula",
	"grammar",
	"person",
	"place",
	"process",
	"skill",
	"theme",
	"vocabulary",
}

// ErrMalformedResponse is returned when the model never produced parseable JSON.
var ErrMalformedResponse = errors.New("malformed model response")
