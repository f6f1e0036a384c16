package legacy

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Annotation describes a legacy value that was dropped or rewritten.
type Annotation struct {
	Value      map[string]any `json:"value"`
	Error      string         `json:"error"`
	Fields     []string       `json:"fields,omitempty"`
	FixedValue any            `json:"fixed_value,omitempty"`
}

const (
	invalidKey = "_invalid"
	fixedKey   = "_fixed"
)

// publicValues copies obj without annotation keys.
func publicValues(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if !strings.HasPrefix(k, "_") {
			out[k] = v
		}
	}
	return out
}

// markInvalid annotates obj as invalid. Without fields the whole object is
// considered bad and earlier field level annotations are dropped.
func markInvalid(obj map[string]any, msg string, fields ...string) {
	entry, exists := obj[invalidKey].(*Annotation)
	if !exists {
		entry = &Annotation{}
	}
	entry.Value = publicValues(obj)
	entry.Error = msg
	if len(fields) > 0 {
		if !exists || entry.Fields != nil {
			entry.Fields = append(entry.Fields, fields...)
		}
	} else {
		entry.Fields = nil
	}
	obj[invalidKey] = entry
}

// markFixed annotates obj as having values replaced during conversion.
func markFixed(obj map[string]any, msg string, fixedValue any, fields ...string) {
	entry := &Annotation{Value: publicValues(obj), Error: msg, Fields: fields}
	if fixedValue != nil && fixedValue != "" {
		entry.FixedValue = fixedValue
	}
	obj[fixedKey] = entry
}

func isInvalid(obj map[string]any) bool {
	_, ok := obj[invalidKey]
	return ok
}

// annotationsByPath walks value collecting annotations under key by
// dotted path. Invalid objects are not descended into.
func annotationsByPath(value any, path, key string, descend bool, out map[string]*Annotation) {
	switch v := value.(type) {
	case map[string]any:
		if a, ok := v[key].(*Annotation); ok {
			out[path] = a
			if !descend {
				return
			}
		}
		for k, child := range v {
			if strings.HasPrefix(k, "_") {
				continue
			}
			annotationsByPath(child, path+"."+k, key, descend, out)
		}
	case []any:
		for i, child := range v {
			annotationsByPath(child, path+"["+strconv.Itoa(i)+"]", key, descend, out)
		}
	}
}

func sortedPaths(m map[string]*Annotation) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dynamic JSON access helpers. Non-matching types are reported through
// the converter error.

func asMap(v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("Value is not a dict: %v", v)
	}
	return m, nil
}

func asList(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("Value is not a list: %v", v)
	}
	return l, nil
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

var (
	zenodoRecord = regexp.MustCompile(`^https://zenodo.org(\d+)$`)
	emailDomain  = regexp.MustCompile(`^[A-Za-z0-9-]+(\.[A-Za-z0-9-]+)+$`)
)

// FixURL trims u and percent encodes its path, query and fragment. The
// second return value reports whether encoding changed the trimmed url.
// Values that are not http(s) urls are only trimmed.
func FixURL(u string) (string, bool) {
	u = strings.TrimSpace(u)
	if u == "" {
		return "", false
	}
	old := u
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return u, false
	}
	u = quoteURL(u)
	u = zenodoRecord.ReplaceAllString(u, "https://zenodo.org/records/$1")
	return u, u != old
}

const (
	safePchar    = "!$&'()*+,;=:@"
	safeFragment = safePchar + "/?"
)

func quoteURL(raw string) string {
	scheme, rest, _ := strings.Cut(raw, "://")
	rest, fragment, hasFragment := strings.Cut(rest, "#")
	rest, query, hasQuery := strings.Cut(rest, "?")
	host, path := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		host, path = rest[:i], rest[i:]
	}
	out := scheme + "://" + host + quote(path, safePchar+"/%")
	if hasQuery && query != "" {
		out += "?" + quoteQuery(query)
	}
	if hasFragment && fragment != "" {
		out += "#" + quote(fragment, safeFragment+"%")
	}
	return out
}

func quote(s, safe string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || strings.IndexByte(safe, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || strings.IndexByte("-._~", c) >= 0
}

// quoteQuery re-encodes query parameters, dropping blank values like
// parse_qsl does.
func quoteQuery(q string) string {
	var parts []string
	for _, pair := range strings.FieldsFunc(q, func(r rune) bool { return r == '&' || r == ';' }) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || v == "" {
			continue
		}
		k, _ = url.QueryUnescape(k)
		v, _ = url.QueryUnescape(v)
		enc := func(s string) string { return strings.ReplaceAll(quote(s, safeFragment+"% "), " ", "+") }
		parts = append(parts, enc(k)+"="+enc(v))
	}
	return strings.Join(parts, "&")
}

func isValidURL(u string) bool {
	if u == "" || strings.ContainsAny(u, " \t\n") {
		return false
	}
	p, err := url.Parse(u)
	if err != nil || p.Host == "" {
		return false
	}
	switch strings.ToLower(p.Scheme) {
	case "http", "https", "ftp", "ftps":
		return true
	}
	return false
}

func isValidEmail(e string) bool {
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e {
		return false
	}
	_, domain, _ := strings.Cut(e, "@")
	return emailDomain.MatchString(domain)
}
