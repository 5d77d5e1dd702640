package model

// Observer receives change notifications meant for a host binding layer.
type Observer interface {
	PropertyChanged(target any, property string)
	CollectionChanged(list *List, changes []ListChange)
}

type nopObserver struct{}

func (nopObserver) PropertyChanged(any, string)           {}
func (nopObserver) CollectionChanged(*List, []ListChange) {}

// Formatter converts between values and display text.
type Formatter interface {
	Convert(value any) string
	// ConvertBack returns a *FormatError for text that cannot be parsed.
	ConvertBack(text string) (any, error)
}

// FormatProvider looks up the formatter for a value type and format name.
// It returns nil when no formatter applies.
type FormatProvider interface {
	Formatter(vt ValueType, format string) Formatter
}
