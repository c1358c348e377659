package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, sample string) {
		t.Helper()
		var v any
		if err := json.Unmarshal([]byte(sample), &v); err != nil {
			t.Fatalf("sample: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	moveSchema := compile("move.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	tradeSchema := compile("trade_update.schema.json")

	validate(moveSchema, `{"type":"MOVE","pos":{"x":120.5,"y":88}}`)

	validate(welcomeSchema, `{
	  "type":"WELCOME",
	  "protocol_version":"1.2",
	  "user_id":"guest-123",
	  "name":"guest-123",
	  "guest":true,
	  "spawn":{"x":100,"y":100},
	  "world":{"seed":"demo","tick_rate_hz":12,"chunk_size":512,"max_speed":100}
	}`)

	validate(tradeSchema, `{
	  "type":"TRADE_UPDATE",
	  "trade_id":"T1",
	  "status":"accepted",
	  "seller":"alice",
	  "buyer":"bob",
	  "offers":{"seller":[{"item":"sword","qty":1}],"buyer":[{"item":"coin","qty":10}]},
	  "confirms":{"seller":true,"buyer":false}
	}`)

	var bad any
	_ = json.Unmarshal([]byte(`{"type":"TRADE_UPDATE","trade_id":"T1","status":"haggling"}`), &bad)
	if err := tradeSchema.Validate(bad); err == nil {
		t.Fatalf("unknown status should fail validation")
	}
}
