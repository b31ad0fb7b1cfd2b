package protocol

import (
	_ "embed"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const commandSchemaURL = "https://skirmish.io/schemas/command.schema.json"

//go:embed schemas/command.schema.json
var commandSchemaJSON string

var commandSchema = jsonschema.MustCompileString(commandSchemaURL, commandSchemaJSON)

// CommandSchema returns the raw JSON schema CMD messages are checked against.
func CommandSchema() string { return commandSchemaJSON }

func validateCommand(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return badRequest("bad json: " + err.Error())
	}
	if err := commandSchema.Validate(v); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return badRequest(leafMessage(ve))
		}
		return badRequest(err.Error())
	}
	return nil
}

// leafMessage picks the deepest cause; the top-level message only says
// "doesn't validate with ...".
func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return ve.Message
	}
	return ve.InstanceLocation + ": " + ve.Message
}
