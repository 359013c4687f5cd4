package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-resty/resty/v2"
)

/**
* Object Mapper (from couchdb resty response to a document struct)
**/

func MapToObject(resp interface{}, obj interface{}) error {
	if response, ok := resp.(*resty.Response); ok {
		return mapBytes(response.Body(), obj)
	}
	return errors.New("resp is not a resty.Response")
}

func mapBytes(data []byte, obj interface{}) error {
	// Check if obj is a pointer to a struct
	val := reflect.ValueOf(obj)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return errors.New("obj is not a pointer to a struct")
	}

	if err := json.Unmarshal(data, obj); err != nil {
		return fmt.Errorf("document cannot be mapped to the given object: %w", err)
	}
	return nil
}
