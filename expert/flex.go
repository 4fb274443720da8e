package expert

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Models are loose about JSON types: numbers arrive as "2,500" or "$1,200",
// ids arrive as bare numbers and booleans as "yes". These types accept the
// common variants after schema validation has ruled out structural errors.

// flexNumber is a number that may arrive as a numeric string. Unparseable
// strings and null leave it unset.
type flexNumber struct {
	v   float64
	set bool
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n.v, n.set = parseAmount(s)
		return nil
	}
	if err := json.Unmarshal(data, &n.v); err != nil {
		return err
	}
	n.set = true
	return nil
}

// or returns the number, or def when unset.
func (n flexNumber) or(def float64) float64 {
	if !n.set {
		return def
	}
	return n.v
}

// flexString is a string that may arrive as a number or null.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = flexString(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

// or returns the string, or def when empty.
func (s flexString) or(def string) string {
	if s == "" {
		return def
	}
	return string(s)
}

// flexBool is a boolean that may arrive as "true", "yes" or "1".
type flexBool struct {
	v   bool
	set bool
}

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "y", "1", "active":
			b.v, b.set = true, true
		case "false", "no", "n", "0", "inactive":
			b.v, b.set = false, true
		}
		return nil
	}
	if err := json.Unmarshal(data, &b.v); err != nil {
		return err
	}
	b.set = true
	return nil
}

func (b flexBool) or(def bool) bool {
	if !b.set {
		return def
	}
	return b.v
}
