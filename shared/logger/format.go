package logger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// lineFormatter renders records as "xtee[<cat>]: <msg>\r\n" where <cat> is
// the two-hex-digit category of the record. Context fields are appended as
// sorted key=value pairs.
type lineFormatter struct{}

func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	cat := CatError
	if entry.Level >= logrus.InfoLevel {
		cat = CatTrace
	}

	buf := bytes.Buffer{}
	fmt.Fprintf(&buf, "xtee[%02x]: %s", cat, entry.Message)

	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}

		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&buf, " %s=%v", k, entry.Data[k])
		}
	}

	buf.WriteString("\r\n")
	return buf.Bytes(), nil
}
