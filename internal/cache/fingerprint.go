package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/book-expert/narrator/internal/core"
)

// Fingerprint identifies the audio an engine would produce for content under
// profile. Whitespace differences do not change it; any setting that can
// change the engine output does.
func Fingerprint(content string, profile core.VoiceProfile, engineID string) core.Fingerprint {
	hash := sha256.New()

	write := func(key, value string) {
		_, _ = io.WriteString(hash, key)
		_, _ = io.WriteString(hash, "=")
		_, _ = io.WriteString(hash, value)
		_, _ = io.WriteString(hash, "\n")
	}

	write("text", strings.Join(strings.Fields(content), " "))
	write("profile", profile.Name)
	write("version", strconv.Itoa(profile.Version))
	write("engine", engineID)
	write("voice", profile.Voice)
	write("language", profile.Language)
	write("style", profile.Style)
	write("rate", formatFloat(profile.Rate))
	write("pitch", formatFloat(profile.Pitch))
	write("volume", formatFloat(profile.Volume))

	keys := make([]string, 0, len(profile.Params))
	for key := range profile.Params {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		write("param."+key, profile.Params[key])
	}

	return core.Fingerprint(hex.EncodeToString(hash.Sum(nil)))
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'g', -1, 64)
}

// blobKey lays blobs out content-addressed under a two character prefix.
func blobKey(fp core.Fingerprint) string {
	s := string(fp)
	if len(s) < 2 {
		return fmt.Sprintf("%s.pcm", s)
	}

	return fmt.Sprintf("%s/%s.pcm", s[:2], s)
}
