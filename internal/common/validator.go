package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

var (
	defaultValidator     *validator.Validate
	defaultValidatorOnce sync.Once
)

func sharedValidator() *validator.Validate {
	defaultValidatorOnce.Do(func() {
		defaultValidator = validator.New()
	})
	return defaultValidator
}

// ValidateStruct checks the validate tags of i and summarizes every failing field.
func ValidateStruct(i any) error {
	return describe(sharedValidator().Struct(i))
}

type GenericEchoValidator struct {
	Validator *validator.Validate
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	v := gv.Validator
	if v == nil {
		v = sharedValidator()
	}
	if err := describe(v.Struct(i)); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
	}
	return nil
}

func describe(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}
	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		if fe.Param() != "" {
			messages = append(messages, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			messages = append(messages, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(messages, "; "))
}
