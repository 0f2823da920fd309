package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	TypeHello:    "hello.schema.json",
	TypeWelcome:  "welcome.schema.json",
	TypeChunkReq: "chunk_req.schema.json",
	TypeError:    "error.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		out := map[string]*jsonschema.Schema{}
		for typ, name := range schemaFiles {
			b, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemasErr = err
				return
			}
			url := "mem://protocol/" + name
			if err := c.AddResource(url, bytes.NewReader(b)); err != nil {
				schemasErr = fmt.Errorf("add %s: %w", name, err)
				return
			}
			s, err := c.Compile(url)
			if err != nil {
				schemasErr = fmt.Errorf("compile %s: %w", name, err)
				return
			}
			out[typ] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// SchemaSource returns the raw JSON schema for a message type.
func SchemaSource(typ string) ([]byte, bool) {
	name, ok := schemaFiles[typ]
	if !ok {
		return nil, false
	}
	b, err := schemaFS.ReadFile("schemas/" + name)
	return b, err == nil
}

// Validate checks a raw JSON message against the schema for its type.
func Validate(msg []byte) (BaseMessage, error) {
	base, err := DecodeBase(msg)
	if err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	all, err := loadSchemas()
	if err != nil {
		return base, err
	}
	s, ok := all[base.Type]
	if !ok {
		return base, fmt.Errorf("unknown message type %q", base.Type)
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return base, err
	}
	return base, nil
}
