package tokenizer

import (
	"fmt"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// DefaultBPECounters loads the real BPE encoders for the families the
// registry references (cl100k_base for GPT-4/3.5-turbo, o200k_base for
// GPT-4o) and returns them ready to pass to NewFactory. Families with no
// entry here silently fall back to the chars-per-token estimator, matching
// AbdelazizMoustafa10m-Harvx's NewTokenizer fallback behavior.
func DefaultBPECounters() (map[Family]BPECounter, error) {
	out := make(map[Family]BPECounter, 2)
	for _, f := range []Family{FamilyCL100K, FamilyO200K} {
		enc, err := tiktoken.GetEncoding(string(f))
		if err != nil {
			return nil, fmt.Errorf("tokenizer: load BPE encoding %q: %w", f, err)
		}
		e := enc
		out[f] = NewTiktokenCounter(func(text string) int {
			return len(e.Encode(text, nil, nil))
		})
	}
	return out, nil
}
