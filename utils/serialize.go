package utils

import (
	"encoding/json"

	"github.com/juju/errors"
)

// Serialize encodes values kept in a store.Store.
func Serialize(o any) ([]byte, error) {
	b, err := json.Marshal(o)
	return b, errors.Annotatef(err, "serializing %T", o)
}

func Unserialize[T any](b []byte) (*T, error) {
	o := new(T)
	if err := json.Unmarshal(b, o); err != nil {
		return nil, errors.Annotatef(err, "unserializing %T", o)
	}
	return o, nil
}
