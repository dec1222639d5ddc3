package archive

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// ObjectKey names the archived copy of a message body:
// <kind>/<yyyy>/<mm>/<dd>/<message id>_<body hash>.json
func ObjectKey(kind, messageID string, at time.Time, body []byte) string {
	id := sanitize(messageID)
	if id == "" {
		id = "unknown"
	}

	// Hash the body so two payloads delivered under one id never collide
	h := sha256.Sum256(body)
	hashPrefix := fmt.Sprintf("%x", h[:8])

	return fmt.Sprintf("%s/%s/%s_%s.json", kind, at.UTC().Format("2006/01/02"), id, hashPrefix)
}

func sanitize(s string) string {
	r := strings.NewReplacer("/", "_", ":", "_", "?", "_", "&", "_", "=", "_", " ", "_")
	return r.Replace(s)
}
