package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var compiledSchemas = compileSchemas()

func compileSchemas() map[string]*gojsonschema.Schema {
	out := make(map[string]*gojsonschema.Schema, len(payloadSchemas))
	for subject, raw := range payloadSchemas {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic(fmt.Sprintf("messagequeue: schema for %s: %v", subject, err))
		}
		out[subject] = s
	}
	return out
}

// Validate checks data against the schema of subject. Subjects without a
// schema only need to carry valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	schema, ok := compiledSchemas[subject]
	if !ok {
		return nil
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema validation failed for %s: %s", subject, strings.Join(msgs, "; "))
}
