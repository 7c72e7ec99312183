package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// StringArray stores a []string as JSON text so the same model works
// across postgres, mysql, and sqlite.
type StringArray []string

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return a.scanBytes(v)
	case string:
		return a.scanBytes([]byte(v))
	default:
		return fmt.Errorf("unsupported type for StringArray: %T", value)
	}
}

func (a *StringArray) scanBytes(b []byte) error {
	if len(b) == 0 {
		*a = StringArray{}
		return nil
	}
	// Native postgres arrays come back as {a,b,c}; everything else is JSON.
	if b[0] == '{' {
		*a = parsePostgresArray(string(b))
		return nil
	}
	return json.Unmarshal(b, a)
}

func parsePostgresArray(s string) StringArray {
	s = strings.Trim(s, "{}")
	if s == "" {
		return StringArray{}
	}
	parts := strings.Split(s, ",")
	out := make(StringArray, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.Trim(p, `"`))
	}
	return out
}

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return json.Marshal(StringArray{})
	}
	return json.Marshal(a)
}

// GormDataType tells GORM to use a text column.
func (StringArray) GormDataType() string {
	return "text"
}
