package render

import (
	"io"
	"strings"
	"time"
	"unicode"
)

const (
	serialPrefix   = "NXG"
	anonymousUser  = "ANON"
	base36Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// TrackingSerial identifies one rendered copy:
// NXG-<last 6 of manual id, upper>-<last 4 of user id or ANON>-<UTC yyyyMMddHHmmss>-<4 base36>.
func TrackingSerial(manualID, userID string, at time.Time, random io.Reader) string {
	user := anonymousUser
	if strings.TrimSpace(userID) != "" {
		user = lastRunes(userID, 4)
	}
	return strings.Join([]string{
		serialPrefix,
		strings.ToUpper(lastRunes(manualID, 6)),
		user,
		at.UTC().Format("20060102150405"),
		randomBase36(random, 4),
	}, "-")
}

func lastRunes(value string, n int) string {
	runes := []rune(value)
	if len(runes) <= n {
		return value
	}
	return string(runes[len(runes)-n:])
}

func randomBase36(random io.Reader, n int) string {
	buf := make([]byte, n)
	if _, err := io.ReadFull(random, buf); err != nil {
		return strings.Repeat("0", n)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = base36Alphabet[int(b)%len(base36Alphabet)]
	}
	return string(out)
}

// Filename is "<sanitized title> - <yyyy.mm.dd>.pdf".
func Filename(title string, at time.Time, ext string) string {
	return SanitizeFilename(title) + " - " + at.Format("2006.01.02") + "." + ext
}

// SanitizeFilename drops characters that are not legal in file names on
// common filesystems and collapses whitespace.
func SanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r):
			continue
		case unicode.IsControl(r):
			continue
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	cleaned := strings.Join(strings.Fields(b.String()), " ")
	cleaned = strings.Trim(cleaned, ". ")
	if runes := []rune(cleaned); len(runes) > 120 {
		cleaned = strings.TrimSpace(string(runes[:120]))
	}
	if cleaned == "" {
		return "Manual"
	}
	return cleaned
}
