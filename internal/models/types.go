package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringSlice is a custom type for storing string arrays in JSON
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	return json.Unmarshal(jsonBytes(value), s)
}

// jsonBytes normalises the column value drivers hand back for json columns:
// sqlite returns strings, postgres and mysql return bytes.
func jsonBytes(value interface{}) []byte {
	switch v := value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}

// Category is the quota bucket an outbound action counts against.
type Category string

const (
	CategoryMessage Category = "message"
	CategoryReply   Category = "reply"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryMessage || c == CategoryReply
}
