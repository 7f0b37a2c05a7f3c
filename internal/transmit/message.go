package transmit

import (
	"strconv"
	"strings"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
)

// Template pieces with {{placeholders}} substituted literally.
const (
	messageHead = `{"metrics": {"assetName": "{{assetname}}"`
	messageVar  = `,"{{varname}}": {{varvalue}},"{{varname}}_timestamp": {{time}}`
	messageTail = `}}`
)

// FormatMessage renders the wire message for one sample.
func FormatMessage(assetName string, s telemetry.Sample) []byte {
	return []byte(FormatValue(assetName, s.Name, s.Value, s.Timestamp))
}

// FormatValue renders the wire message for a name, value and epoch-seconds
// timestamp.
func FormatValue(assetName, name string, value int, ts int64) string {
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(messageHead, "{{assetname}}", assetName))
	b.WriteString(strings.NewReplacer(
		"{{varname}}", name,
		"{{varvalue}}", strconv.Itoa(value),
		"{{time}}", strconv.FormatInt(ts, 10)+"000",
	).Replace(messageVar))
	b.WriteString(messageTail)
	return b.String()
}
