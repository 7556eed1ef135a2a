package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"
)

var responseValidator = validator.New()

// Response is a successful backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into target and validates any structs it contains.
func (response *Response) Decode(target any) error {
	if len(bytes.TrimSpace(response.Body)) == 0 {
		return fmt.Errorf("%w: empty body", ErrInvalidResponse)
	}
	if err := json.Unmarshal(response.Body, target); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if err := validateDecoded(reflect.ValueOf(target)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return nil
}

// Decode unmarshals and validates the response body as T.
func Decode[T any](response *Response) (T, error) {
	var decoded T
	if err := response.Decode(&decoded); err != nil {
		return decoded, err
	}
	return decoded, nil
}

func validateDecoded(value reflect.Value) error {
	for value.Kind() == reflect.Pointer || value.Kind() == reflect.Interface {
		if value.IsNil() {
			return nil
		}
		value = value.Elem()
	}
	switch value.Kind() {
	case reflect.Struct:
		return responseValidator.Struct(value.Interface())
	case reflect.Slice, reflect.Array:
		for index := 0; index < value.Len(); index++ {
			if err := validateDecoded(value.Index(index)); err != nil {
				return fmt.Errorf("item %d: %w", index, err)
			}
		}
	}
	return nil
}

// IDList is the body of a bulk delete. An empty list serializes as {"ids":[]}.
type IDList struct {
	IDs []int64 `json:"ids"`
}

// MarshalJSON never emits a null id list.
func (list IDList) MarshalJSON() ([]byte, error) {
	ids := list.IDs
	if ids == nil {
		ids = []int64{}
	}
	return json.Marshal(struct {
		IDs []int64 `json:"ids"`
	}{IDs: ids})
}
