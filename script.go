package main

import (
	"errors"
	"fmt"
	"os"

	"k8s.io/apimachinery/pkg/util/json"
	"sigs.k8s.io/yaml"

	"github.com/l7mp/livesections/pkg/collection"
	"github.com/l7mp/livesections/pkg/object"
)

// script is a list of records and a sequence of edits to replay on them.
type script struct {
	Records []object.Document
	Steps   []step
}

// step is one write transaction.
type step struct {
	Op     string
	Index  int
	To     int
	Key    string
	Record object.Document
}

func loadScript(file string) (*script, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return parseScript(b)
}

// parseScript decodes a YAML or JSON script. Integral numbers are decoded as int64.
func parseScript(b []byte) (*script, error) {
	j, err := yaml.YAMLToJSON(b)
	if err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}

	raw := map[string]any{}
	if err := json.Unmarshal(j, &raw); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}

	s := &script{}

	records, ok := raw["records"].([]any)
	if !ok && raw["records"] != nil {
		return nil, errors.New("invalid script: records must be a list")
	}
	for i, r := range records {
		doc, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid script: record %d is not an object", i)
		}
		s.Records = append(s.Records, doc)
	}

	steps, ok := raw["steps"].([]any)
	if !ok && raw["steps"] != nil {
		return nil, errors.New("invalid script: steps must be a list")
	}
	for i, r := range steps {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid script: step %d is not an object", i)
		}
		st := step{}
		st.Op, _ = m["op"].(string)
		st.Key, _ = m["key"].(string)
		if v, ok := m["index"].(int64); ok {
			st.Index = int(v)
		}
		if v, ok := m["to"].(int64); ok {
			st.To = int(v)
		}
		if v, ok := m["record"].(map[string]any); ok {
			st.Record = v
		}
		s.Steps = append(s.Steps, st)
	}

	return s, nil
}

// apply runs the step as a write transaction on the list.
func (st step) apply(list *collection.List) error {
	_, err := list.Write(func(tx *collection.Txn) error {
		switch st.Op {
		case "append":
			_, err := tx.Append(st.Record)
			return err
		case "insert":
			_, err := tx.Insert(st.Index, st.Record)
			return err
		case "update":
			return tx.Update(st.Index, st.Record)
		case "set":
			_, err := tx.Set(st.Record)
			return err
		case "remove":
			if st.Key != "" {
				return tx.RemoveKey(st.Key)
			}
			return tx.Remove(st.Index)
		case "move":
			return tx.Move(st.Index, st.To)
		case "clear":
			tx.Clear()
			return nil
		default:
			return fmt.Errorf("unknown op %q", st.Op)
		}
	})
	return err
}

func (st step) String() string {
	switch st.Op {
	case "move":
		return fmt.Sprintf("move %d -> %d", st.Index, st.To)
	case "remove":
		if st.Key != "" {
			return fmt.Sprintf("remove key %s", st.Key)
		}
		return fmt.Sprintf("remove %d", st.Index)
	case "append", "set", "clear":
		return st.Op
	default:
		return fmt.Sprintf("%s %d", st.Op, st.Index)
	}
}
