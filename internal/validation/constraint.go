// Package validation проверяет сырой ввод форм по декларативным схемам
// полей.
//
// Схема: это данные, список полей, у каждого вид, флаг обязательности
// и список FieldConstraint. Все схемы проверяет одна общая функция
// (Validate).
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"
)

// FieldConstraint: одно из Range, Length, Pattern или Enum.
type FieldConstraint interface {
	constraint()
}

// Range ограничивает целое поле включительно.
type Range struct {
	Min int
	Max int
}

// Length ограничивает строковое поле (в символах) или списочное (в элементах).
// Max == 0 означает отсутствие верхней границы.
type Length struct {
	Min int
	Max int
}

// Pattern проверяет строку именованным matcher.
type Pattern struct {
	Name    string
	Message string
	Match   func(string) bool
	// Normalize переписывает подходящее значение (необязательно).
	Normalize func(string) string
}

// Enum ограничивает строку фиксированным набором значений.
type Enum struct {
	Values []string
}

func (Range) constraint()   {}
func (Length) constraint()  {}
func (Pattern) constraint() {}
func (Enum) constraint()    {}

// formats обслуживает matcher-ы email, URL и UUID.
var formats = validator.New()

// Regexp строит Pattern из регулярного выражения.
func Regexp(name, expr, message string) Pattern {
	re := regexp.MustCompile(expr)
	return Pattern{Name: name, Message: message, Match: re.MatchString}
}

// Email принимает корректные адреса и переводит их в нижний регистр.
func Email() Pattern {
	return Pattern{
		Name:      "email",
		Message:   "must be a valid email address",
		Match:     func(s string) bool { return formats.Var(s, "email") == nil },
		Normalize: strings.ToLower,
	}
}

// URL принимает абсолютные http и https URL.
func URL() Pattern {
	return Pattern{
		Name:    "url",
		Message: "must be a valid URL",
		Match: func(s string) bool {
			if formats.Var(s, "url") != nil {
				return false
			}
			u, err := url.Parse(s)
			return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
		},
	}
}

// UUID принимает строки UUID в каноническом виде.
func UUID() Pattern {
	return Pattern{
		Name:      "uuid",
		Message:   "must be a valid identifier",
		Match:     func(s string) bool { return formats.Var(strings.ToLower(s), "uuid") == nil },
		Normalize: strings.ToLower,
	}
}

// USPhone принимает номера, допустимые для региона US, и приводит их к
// национальному формату, например (201) 555-0123.
func USPhone() Pattern {
	return Pattern{
		Name:    "us_phone",
		Message: "must be a valid US phone number",
		Match: func(s string) bool {
			num, err := libphonenumber.Parse(s, "US")
			if err != nil {
				return false
			}
			return libphonenumber.IsValidNumberForRegion(num, "US")
		},
		Normalize: func(s string) string {
			num, err := libphonenumber.Parse(s, "US")
			if err != nil {
				return s
			}
			return libphonenumber.Format(num, libphonenumber.NATIONAL)
		},
	}
}

// USZip принимает 12345 и 12345-6789.
func USZip() Pattern {
	return Regexp("us_zip", `^\d{5}(-\d{4})?$`, "must be a valid US zip code")
}

// check возвращает сообщение, если value нарушает c, иначе "".
func (r Range) check(n int) string {
	if n < r.Min || n > r.Max {
		return fmt.Sprintf("must be between %d and %d", r.Min, r.Max)
	}
	return ""
}

func (l Length) checkString(s string) string {
	n := len([]rune(s))
	if n < l.Min {
		return fmt.Sprintf("must be at least %d characters", l.Min)
	}
	if l.Max > 0 && n > l.Max {
		return fmt.Sprintf("must be at most %d characters", l.Max)
	}
	return ""
}

func (l Length) checkCount(n int) string {
	if n < l.Min {
		return fmt.Sprintf("must contain at least %d items", l.Min)
	}
	if l.Max > 0 && n > l.Max {
		return fmt.Sprintf("must contain at most %d items", l.Max)
	}
	return ""
}

func (p Pattern) check(s string) string {
	if p.Match == nil || p.Match(s) {
		return ""
	}
	return p.Message
}

func (e Enum) check(s string) string {
	for _, v := range e.Values {
		if v == s {
			return ""
		}
	}
	return "must be one of: " + strings.Join(e.Values, ", ")
}
