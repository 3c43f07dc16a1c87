package report

import (
	"bytes"
	"fmt"
	"strings"

	"xsec-crypto/pkg/certstore"
)

// HTML renders the inventory as a standalone page.
func HTML(records []certstore.Record) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(`<html><head><meta charset="utf-8"><style>
	body{font-family:Arial,Helvetica,sans-serif}
	table{border-collapse:collapse;width:100%}
	th,td{border:1px solid #ddd;padding:8px}
	th{background:#f4f4f4} .unknown{background:#f8d7da}
	code{font-size:90%}
	</style></head><body><h3>Certificate inventory</h3><table>
	<tr>`)
	for _, h := range Columns {
		buf.WriteString("<th>" + esc(h) + "</th>")
	}
	buf.WriteString("</tr>")
	for _, r := range Rows(records) {
		cls := ""
		if !r.Parsed {
			cls = "unknown"
		}
		buf.WriteString(fmt.Sprintf(
			`<tr class="%s"><td><code>%s</code></td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>`,
			cls, esc(r.Fingerprint), esc(r.Label), esc(r.KeyType), esc(r.Provider), esc(r.Subject), esc(r.NotAfter), esc(r.Added),
		))
	}
	buf.WriteString(`</table></body></html>`)
	return buf.String(), nil
}

func esc(s string) string {
	r := strings.ReplaceAll(s, "&", "&amp;")
	r = strings.ReplaceAll(r, "<", "&lt;")
	r = strings.ReplaceAll(r, ">", "&gt;")
	r = strings.ReplaceAll(r, `"`, "&quot;")
	return r
}
