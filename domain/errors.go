package domain

import "fmt"

// MalformedUpdate wraps a configuration update that could not be read as a whole
type MalformedUpdate struct {
	Err error
}

func (m MalformedUpdate) Error() string {
	return "malformed configuration update: " + m.Err.Error()
}

func (m MalformedUpdate) Unwrap() error {
	return m.Err
}

// InvalidValue wraps a single configuration key whose value could not be applied
type InvalidValue struct {
	Key   string
	Value interface{}
	Err   error
}

func (i InvalidValue) Error() string {
	return fmt.Sprintf("invalid value %v for %s: %v", i.Value, i.Key, i.Err)
}

func (i InvalidValue) Unwrap() error {
	return i.Err
}
