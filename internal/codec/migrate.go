package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itchyny/gojq"
)

// Migration upgrades the data of a payload from version From to From+1.
// Query is a jq program receiving the old data and producing the new data.
type Migration struct {
	From  int
	Query string
}

type compiled struct {
	from int
	code *gojq.Code
}

func (m Migration) compile() (*compiled, error) {
	q, err := gojq.Parse(m.Query)
	if err != nil {
		return nil, fmt.Errorf("codec: migration from %d: %w", m.From, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("codec: migration from %d: %w", m.From, err)
	}
	return &compiled{from: m.From, code: code}, nil
}

func (c *compiled) run(in any) (any, error) {
	iter := c.code.Run(in)
	out, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("migration from %d produced no output", c.from)
	}
	if err, isErr := out.(error); isErr {
		var halt *gojq.HaltError
		if errors.As(err, &halt) && halt.Value() == nil {
			return nil, fmt.Errorf("migration from %d halted", c.from)
		}
		return nil, fmt.Errorf("migration from %d: %w", c.from, err)
	}
	return out, nil
}

// migrate runs every migration from version up to the codec version.
func (c *Codec[S]) migrate(version int, data json.RawMessage) (json.RawMessage, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	for v := version; v < c.version; v++ {
		m, ok := c.migrations[v]
		if !ok {
			// Version 0 payloads with no registered migration are already in
			// the version 1 shape.
			if v == 0 {
				continue
			}
			return nil, fmt.Errorf("no migration from version %d", v)
		}
		out, err := m.run(doc)
		if err != nil {
			return nil, err
		}
		doc = out
	}
	return json.Marshal(doc)
}
