package web

import (
	"strconv"

	"github.com/a-h/templ"
)

func itoa(value int) string {
	return strconv.Itoa(value)
}

func utoa(value uint) string {
	return strconv.FormatUint(uint64(value), 10)
}

func esc(value string) string {
	return templ.EscapeString(value)
}
