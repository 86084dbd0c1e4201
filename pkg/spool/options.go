package spool

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
	"golang.org/x/crypto/blake2b"
)

const fingerprintDelimiter = "|"

var fingerprintEscaper = strings.NewReplacer(`\`, `\\`, `=`, `\=`, `|`, `\|`)

// RawOptions are credential/config key-values exactly as a provider supplied them.
type RawOptions map[string]interface{}

// ConnectionOptions are RawOptions with every unset value (nil or "") removed.
type ConnectionOptions map[string]interface{}

// Fingerprint is a hex digest identifying a set of ConnectionOptions.
// Two option sets with the same non-empty key/values always share a Fingerprint.
type Fingerprint string

// NormalizeOptions drops unset values and computes the Fingerprint of what is left.
func NormalizeOptions(raw RawOptions) (ConnectionOptions, Fingerprint) {

	options := make(ConnectionOptions, len(raw))
	for key, value := range raw {
		if isUnset(value) {
			continue
		}
		options[key] = value
	}

	return options, options.Fingerprint()
}

func isUnset(value interface{}) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok && s == "" {
		return true
	}
	return false
}

// Fingerprint hashes the sorted key=value pairs of the options.
func (o ConnectionOptions) Fingerprint() Fingerprint {

	keys := make([]string, 0, len(o))
	for key, value := range o {
		if isUnset(value) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, key := range keys {
		pairs[i] = fingerprintEscaper.Replace(key) + "=" + fingerprintEscaper.Replace(formatValue(o[key]))
	}

	sum := blake2b.Sum256([]byte(strings.Join(pairs, fingerprintDelimiter)))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

func formatValue(value interface{}) string {
	s, err := cast.ToStringE(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return s
}

// Has reports whether key is set.
func (o ConnectionOptions) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns the value of key as a string, or "" when unset.
func (o ConnectionOptions) String(key string) string {
	value, ok := o[key]
	if !ok {
		return ""
	}
	return formatValue(value)
}

// StringOr returns the value of key as a string, or fallback when unset.
func (o ConnectionOptions) StringOr(key, fallback string) string {
	if !o.Has(key) {
		return fallback
	}
	return o.String(key)
}

// Strings returns a list value. Strings are split on commas.
func (o ConnectionOptions) Strings(key string) []string {
	value, ok := o[key]
	if !ok {
		return nil
	}

	if s, isString := value.(string); isString {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}

	out, err := cast.ToStringSliceE(value)
	if err != nil {
		return []string{formatValue(value)}
	}
	return out
}

// Int returns the value of key as an int. ok is false when unset or not numeric.
func (o ConnectionOptions) Int(key string) (int, bool) {
	value, ok := o[key]
	if !ok {
		return 0, false
	}

	i, err := cast.ToIntE(value)
	if err != nil {
		return 0, false
	}
	return i, true
}

// Bool returns the value of key as a bool. Unset or unparsable values are false.
func (o ConnectionOptions) Bool(key string) bool {
	value, ok := o[key]
	if !ok {
		return false
	}

	b, err := cast.ToBoolE(value)
	if err != nil {
		return false
	}
	return b
}

// Milliseconds reads an integer millisecond value as a Duration.
func (o ConnectionOptions) Milliseconds(key string) (time.Duration, bool) {
	ms, ok := o.Int(key)
	if !ok {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// Seconds reads an integer second value as a Duration.
func (o ConnectionOptions) Seconds(key string) (time.Duration, bool) {
	s, ok := o.Int(key)
	if !ok {
		return 0, false
	}
	return time.Duration(s) * time.Second, true
}
