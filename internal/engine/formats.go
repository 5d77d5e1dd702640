package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"exoweb/internal/model"
)

// Formats is the default format provider. A property's format string is
// used as the time layout for dates and as a strconv verb suffix for
// numbers ("2" prints two decimals); it is ignored otherwise.
type Formats struct{}

func (Formats) Formatter(vt model.ValueType, format string) model.Formatter {
	switch vt {
	case model.Integer:
		return integerFormat{}
	case model.Number:
		prec := -1
		if n, err := strconv.Atoi(format); err == nil && n >= 0 {
			prec = n
		}
		return numberFormat{prec: prec}
	case model.Boolean:
		return booleanFormat{}
	case model.Date:
		if format == "" {
			format = "2006-01-02"
		}
		return dateFormat{layout: format}
	}
	return nil
}

type integerFormat struct{}

func (integerFormat) Convert(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (integerFormat) ConvertBack(text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return nil, &model.FormatError{Message: "must be a whole number", Value: text}
	}
	return n, nil
}

type numberFormat struct {
	prec int
}

func (f numberFormat) Convert(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', f.prec, 64)
	}
	return fmt.Sprint(v)
}

func (numberFormat) ConvertBack(text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, &model.FormatError{Message: "must be a number", Value: text}
	}
	return n, nil
}

type booleanFormat struct{}

func (booleanFormat) Convert(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (booleanFormat) ConvertBack(text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(text)
	if err != nil {
		return nil, &model.FormatError{Message: "must be true or false", Value: text}
	}
	return b, nil
}

type dateFormat struct {
	layout string
}

func (f dateFormat) Convert(v any) string {
	t, ok := v.(time.Time)
	if !ok {
		return ""
	}
	return t.Format(f.layout)
}

func (f dateFormat) ConvertBack(text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	t, err := time.Parse(f.layout, text)
	if err != nil {
		return nil, &model.FormatError{Message: "must be a date like " + f.layout, Value: text}
	}
	return t, nil
}
