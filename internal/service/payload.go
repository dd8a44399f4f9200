package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"agora-server/internal/model"
	"agora-server/internal/store"
)

// NewValidator returns a validator that reports json field names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodePayload unmarshals data into dst and validates it.
func decodePayload(v *validator.Validate, data json.RawMessage, dst interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return model.Validationf("missing payload")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return model.Validationf("malformed payload: %v", err)
	}
	if err := v.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.Validationf("invalid payload: %v", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), strings.Split(fe.Namespace(), ".")[0]+".")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return model.Validationf("%s", strings.Join(msgs, "; "))
}

// storeError maps a persistence failure onto the domain taxonomy.
func storeError(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &model.Error{Kind: model.KindNotFound, Message: what + " not found", Err: err}
	}
	var derr *model.Error
	if errors.As(err, &derr) {
		return derr
	}
	return model.Transaction(err, "failed to persist "+what)
}
