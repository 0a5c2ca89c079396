package domain

import (
	"encoding/json"
	"fmt"
)

// AttachmentKind discriminates the shapes an attachment field can take.
type AttachmentKind string

const (
	AttachmentNone AttachmentKind = "none"
	AttachmentURL  AttachmentKind = "url"
	AttachmentFile AttachmentKind = "file"
)

// AttachmentRef is the parsed form of a record's attachment field. The raw
// field value is sniffed exactly once, at the data-store boundary; everything
// downstream works with this tagged form.
type AttachmentRef struct {
	Kind AttachmentKind
	URL  string
	Name string
	Size int64
}

// ParseAttachment normalizes the raw attachment value returned by the data
// store. Three shapes occur in practice: a bare URL string, a single object
// with a url key, or an array of such objects (only the first entry is used).
func ParseAttachment(raw json.RawMessage) (AttachmentRef, error) {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == `""` {
		return AttachmentRef{Kind: AttachmentNone}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return AttachmentRef{Kind: AttachmentNone}, nil
		}
		return AttachmentRef{Kind: AttachmentURL, URL: s}, nil
	}

	var obj attachmentObject
	if err := json.Unmarshal(raw, &obj); err == nil && obj.URL != "" {
		return obj.ref(), nil
	}

	var list []attachmentObject
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return AttachmentRef{Kind: AttachmentNone}, nil
		}
		if list[0].URL != "" {
			return list[0].ref(), nil
		}
	}

	return AttachmentRef{}, fmt.Errorf("unrecognized attachment shape: %s", truncate(string(raw), 80))
}

type attachmentObject struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (o attachmentObject) ref() AttachmentRef {
	return AttachmentRef{Kind: AttachmentFile, URL: o.URL, Name: o.Name, Size: o.Size}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
