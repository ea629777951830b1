package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Key is the canonical string `"v{VERSION}:{scope}:{16-hex-hash}"` from
// spec §3. The hash is a stable digest over a canonicalized input object:
// keys sorted, nil/empty-string values dropped.
type Key struct {
	Version int
	Scope   string
	Hash    string
}

// String renders the key in its canonical textual form.
func (k Key) String() string {
	return fmt.Sprintf("v%d:%s:%s", k.Version, k.Scope, k.Hash)
}

// canonicalize walks inputs and produces a deterministic string
// representation: map keys sorted, nil/"" values dropped, nested maps
// recursed the same way.
func canonicalize(inputs map[string]interface{}) string {
	keys := make([]string, 0, len(inputs))
	for k, v := range inputs {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(canonicalValue(inputs[k]))
		b.WriteString(";")
	}
	return b.String()
}

func canonicalValue(v interface{}) string {
	switch t := v.(type) {
	case map[string]interface{}:
		return "{" + canonicalize(t) + "}"
	case []interface{}:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = canonicalValue(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// Generate builds a Key for scope from a canonicalized inputs object. Same
// canonicalized inputs always produce the same key (spec §8 invariant);
// different canonicalized inputs produce a different key with
// overwhelming probability.
func Generate(scope string, inputs map[string]interface{}) Key {
	sum := sha256.Sum256([]byte(canonicalize(inputs)))
	return Key{Version: CacheVersion, Scope: scope, Hash: hex.EncodeToString(sum[:])[:16]}
}

// Parse recovers {version, scope, hash} from a rendered key string.
// parse(generate(scope, inputs)).scope == scope is the round-trip law
// spec §8 requires.
func Parse(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "v") {
		return Key{}, fmt.Errorf("cache: malformed key %q", s)
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[0], "v"))
	if err != nil {
		return Key{}, fmt.Errorf("cache: malformed key version in %q: %w", s, err)
	}
	return Key{Version: version, Scope: parts[1], Hash: parts[2]}, nil
}
