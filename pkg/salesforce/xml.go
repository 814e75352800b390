package salesforce

import "regexp"

// xmlElementValue extracts the text content of the first occurrence of the
// named element in an XML document. Login and metadata responses only need a
// handful of scalar fields, so a single-purpose extractor avoids dragging a
// full XML object model through the hot path.
func xmlElementValue(doc []byte, element string) string {
	re := regexp.MustCompile(`<` + regexp.QuoteMeta(element) + `(?:\s[^>]*)?>([\s\S]*?)</` + regexp.QuoteMeta(element) + `>`)
	m := re.FindSubmatch(doc)
	if m == nil {
		return ""
	}
	return string(m[1])
}
