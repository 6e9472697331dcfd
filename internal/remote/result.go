package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var errNonJSON = errors.New("non-JSON response")

// Result разобранный ответ сервера: сущность или набор коллекций.
type Result struct {
	body   []byte
	fields map[string]json.RawMessage
}

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
	HTTP    int    `json:"http"`
}

var blockedCodes = map[string]bool{
	"api_blocked": true,
	"blocked":     true,
}

var authCodes = map[string]bool{
	"invalid_signature":   true,
	"invalid_credentials": true,
	"unauthorized":        true,
	"invalid_keys":        true,
}

// Parse разбирает тело ответа. Ответ с полем error возвращается как *Error.
func Parse(body []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &Error{Kind: KindTransport, Err: errNonJSON}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("decode response: %w", err)}
	}
	if raw, ok := fields["error"]; ok && !isNull(raw) {
		return nil, parseError(raw)
	}
	return &Result{body: trimmed, fields: fields}, nil
}

func parseError(raw json.RawMessage) *Error {
	var p errorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		var msg string
		_ = json.Unmarshal(raw, &msg)
		return &Error{Kind: KindValidation, Message: msg}
	}
	e := &Error{Code: p.Code, Type: p.Type, Message: p.Message, Status: p.HTTP}
	e.Kind = classify(p.Code, p.HTTP)
	return e
}

func classify(code string, status int) Kind {
	switch {
	case blockedCodes[code]:
		return KindBlocked
	case authCodes[code] || status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusNotFound || strings.HasSuffix(code, "_not_found"):
		return KindNotFound
	case status >= http.StatusInternalServerError:
		return KindTransport
	default:
		return KindValidation
	}
}

func isNull(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	return len(s) == 0 || bytes.Equal(s, []byte("null")) || bytes.Equal(s, []byte("false"))
}

// IsEntity сообщает, что ответ содержит конкретный идентификатор.
func (r *Result) IsEntity() bool {
	raw, ok := r.fields["id"]
	if !ok || isNull(raw) {
		return false
	}
	s := strings.Trim(string(bytes.TrimSpace(raw)), `"`)
	return s != "" && s != "0"
}

// Has сообщает, есть ли в ответе непустое поле name.
func (r *Result) Has(name string) bool {
	raw, ok := r.fields[name]
	return ok && !isNull(raw)
}

// Field возвращает сырое значение поля.
func (r *Result) Field(name string) (json.RawMessage, bool) {
	raw, ok := r.fields[name]
	if !ok || isNull(raw) {
		return nil, false
	}
	return raw, true
}

// Collection возвращает элементы именованного массива, например installs или licenses.
func (r *Result) Collection(name string) ([]json.RawMessage, bool) {
	raw, ok := r.Field(name)
	if !ok {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

// Decode декодирует весь ответ в dest.
func (r *Result) Decode(dest any) error {
	return json.Unmarshal(r.body, dest)
}

// Body возвращает тело ответа.
func (r *Result) Body() []byte {
	return r.body
}

// MustParse разбирает заведомо корректный JSON, используется в тестах.
func MustParse(body string) *Result {
	r, err := Parse([]byte(body))
	if err != nil {
		panic(err)
	}
	return r
}
