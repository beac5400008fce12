package validation

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldKind: способ приведения сырого поля.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindList
)

// Field объявляет одно поле ввода.
type Field struct {
	Name        string
	Kind        FieldKind
	Required    bool
	Constraints []FieldConstraint
}

// Schema: именованный набор полей.
type Schema struct {
	Name   string
	Fields []Field
}

// Input: сырой ввод формы. У списочных полей по значению на элемент.
type Input map[string][]string

// FieldError: одна ожидаемая ошибка валидации.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Message
}

// JoinErrors собирает ошибки полей в одну читаемую строку.
func JoinErrors(errs []FieldError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.String()
	}
	return strings.Join(parts, "; ")
}

// ParseError: сырой ввод, который вообще нельзя привести к типу (в
// отличие от корректного ввода, нарушающего ограничения).
type ParseError struct {
	Field string
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("field %s: cannot parse %q", e.Field, e.Value)
}

// Values: нормализованный и приведённый к типам результат успешной валидации.
type Values struct {
	ints    map[string]int
	strings map[string]string
	lists   map[string][]string
}

// Int возвращает целое поле (0, если нет).
func (v Values) Int(name string) int { return v.ints[name] }

// String возвращает строковое поле ("", если нет).
func (v Values) String(name string) string { return v.strings[name] }

// List возвращает списочное поле (nil, если нет).
func (v Values) List(name string) []string { return v.lists[name] }

// Has сообщает, передано ли необязательное поле.
func (v Values) Has(name string) bool {
	if _, ok := v.ints[name]; ok {
		return true
	}
	if _, ok := v.strings[name]; ok {
		return true
	}
	_, ok := v.lists[name]
	return ok
}

// Validate проверяет in по schema.
//
// Ожидаемо неверный ввод даёт ошибки полей и nil-ошибку. Ненулевая
// ошибка (всегда *ParseError) значит, что ввод не удалось привести.
// Поля, не объявленные в схеме, игнорируются.
func Validate(schema *Schema, in Input) (Values, []FieldError, error) {
	out := Values{
		ints:    make(map[string]int),
		strings: make(map[string]string),
		lists:   make(map[string][]string),
	}
	var errs []FieldError

	for _, f := range schema.Fields {
		switch f.Kind {
		case KindInt:
			raw := first(in[f.Name])
			if raw == "" {
				if f.Required {
					errs = append(errs, FieldError{Field: f.Name, Message: "is required"})
				}
				continue
			}
			n, err := strconv.Atoi(raw)
			if err != nil {
				if _, ferr := strconv.ParseFloat(raw, 64); ferr == nil {
					errs = append(errs, FieldError{Field: f.Name, Message: "must be a whole number"})
					continue
				}
				return Values{}, nil, &ParseError{Field: f.Name, Value: raw}
			}
			if msg := checkInt(f.Constraints, n); msg != "" {
				errs = append(errs, FieldError{Field: f.Name, Message: msg})
				continue
			}
			out.ints[f.Name] = n

		case KindString:
			raw := first(in[f.Name])
			if raw == "" {
				if f.Required {
					errs = append(errs, FieldError{Field: f.Name, Message: "is required"})
				}
				continue
			}
			value, msg := checkString(f.Constraints, raw)
			if msg != "" {
				errs = append(errs, FieldError{Field: f.Name, Message: msg})
				continue
			}
			out.strings[f.Name] = value

		case KindList:
			items := nonEmpty(in[f.Name])
			if len(items) == 0 && f.Required {
				errs = append(errs, FieldError{Field: f.Name, Message: "is required"})
				continue
			}
			items, msg := checkList(f.Constraints, items)
			if msg != "" {
				errs = append(errs, FieldError{Field: f.Name, Message: msg})
				continue
			}
			if len(items) > 0 {
				out.lists[f.Name] = items
			}
		}
	}

	return out, errs, nil
}

func checkInt(constraints []FieldConstraint, n int) string {
	for _, c := range constraints {
		if r, ok := c.(Range); ok {
			if msg := r.check(n); msg != "" {
				return msg
			}
		}
	}
	return ""
}

// checkString применяет ограничения по порядку и возвращает нормализованное значение.
func checkString(constraints []FieldConstraint, s string) (string, string) {
	for _, c := range constraints {
		var msg string
		switch c := c.(type) {
		case Length:
			msg = c.checkString(s)
		case Pattern:
			if msg = c.check(s); msg == "" && c.Normalize != nil {
				s = c.Normalize(s)
			}
		case Enum:
			msg = c.check(s)
		}
		if msg != "" {
			return "", msg
		}
	}
	return s, ""
}

// checkList ограничивает число элементов через Length, остальные
// ограничения применяет к каждому элементу.
func checkList(constraints []FieldConstraint, items []string) ([]string, string) {
	for _, c := range constraints {
		if l, ok := c.(Length); ok {
			if msg := l.checkCount(len(items)); msg != "" {
				return nil, msg
			}
		}
	}
	normalized := make([]string, 0, len(items))
	for i, item := range items {
		var itemConstraints []FieldConstraint
		for _, c := range constraints {
			if _, ok := c.(Length); !ok {
				itemConstraints = append(itemConstraints, c)
			}
		}
		v, msg := checkString(itemConstraints, item)
		if msg != "" {
			return nil, fmt.Sprintf("item %d %s", i+1, msg)
		}
		normalized = append(normalized, v)
	}
	return normalized, ""
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

func nonEmpty(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
