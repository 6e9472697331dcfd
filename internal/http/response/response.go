// Package response содержит единый JSON конверт ответов админского API
// и отображение доменных ошибок в HTTP статусы.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/remote"
)

// Response стандартная структура JSON ответа.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
	Data   any    `json:"data,omitempty"`
}

const (
	// StatusOK значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// OK успешный ответ без данных.
func OK() Response {
	return Response{Status: StatusOK}
}

// OKWithData успешный ответ с данными.
func OKWithData(data any) Response {
	return Response{Status: StatusOK, Data: data}
}

// Error ответ с ошибкой msg.
func Error(msg string) Response {
	return Response{Status: StatusError, Error: msg}
}

// ValidationError собирает нарушения валидации в одно сообщение.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "email":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "min", "gt":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be positive", err.Field()))
		case "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is too long", err.Field()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}

var statuses = []struct {
	err    error
	status int
}{
	{models.ErrNotRegistered, http.StatusConflict},
	{models.ErrAlreadyRegistered, http.StatusConflict},
	{models.ErrNotPending, http.StatusConflict},
	{models.ErrNoLicense, http.StatusNotFound},
	{models.ErrPlanNotFound, http.StatusNotFound},
	{models.ErrNoSubscription, http.StatusNotFound},
	{models.ErrLicenseMismatch, http.StatusUnprocessableEntity},
	{models.ErrTrialNotSupported, http.StatusUnprocessableEntity},
	{models.ErrTrialUsed, http.StatusConflict},
	{models.ErrInsufficientQuota, http.StatusConflict},
	{models.ErrNotNetwork, http.StatusConflict},
	{models.ErrNotClone, http.StatusConflict},
	{models.ErrTransferExpired, http.StatusGone},
	{models.ErrTransferInvalid, http.StatusForbidden},
	{models.ErrLocked, http.StatusConflict},
	{models.ErrInvalidEntity, http.StatusBadGateway},
}

// FromError подбирает HTTP статус и ответ для ошибки сервиса.
// Ошибки удалённого сервера передаются с их кодом и сообщением.
func FromError(err error) (int, Response) {
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.status, Error(s.err.Error())
		}
	}
	var rerr *remote.Error
	if errors.As(err, &rerr) {
		resp := Error(remote.Message(err, "remote server error"))
		resp.Code = rerr.Code
		switch {
		case remote.IsConnectivity(err):
			return http.StatusServiceUnavailable, resp
		case remote.IsNotFound(err):
			return http.StatusNotFound, resp
		case remote.IsValidation(err):
			return http.StatusUnprocessableEntity, resp
		default:
			return http.StatusBadGateway, resp
		}
	}
	return http.StatusInternalServerError, Error("internal error")
}

// Render пишет ответ со статусом status.
func Render(w http.ResponseWriter, r *http.Request, status int, resp Response) {
	render.Status(r, status)
	render.JSON(w, r, resp)
}

// RenderError пишет ответ для ошибки сервиса.
func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := FromError(err)
	Render(w, r, status, resp)
}

// Decode читает JSON тело в dest и проверяет его. Пустое тело допустимо,
// если allowEmpty. При ошибке ответ уже записан и возвращается false.
func Decode(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dest any, allowEmpty bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			Render(w, r, http.StatusBadRequest, Error("invalid request body"))
			return false
		}
	}
	if err := validate.Struct(dest); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			Render(w, r, http.StatusUnprocessableEntity, ValidationError(verrs))
			return false
		}
		Render(w, r, http.StatusBadRequest, Error("invalid request body"))
		return false
	}
	return true
}
