package logging

import (
	"fmt"
	"iter"
	"strings"
)

const badKey = "!BADKEY"

// pairs iterates alternating key-value arguments.
//
// Non-string keys are formatted with %v. A dangling value is yielded under badKey,
// matching what log/slog does.
func pairs(keysAndValues []any) iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for i := 0; i < len(keysAndValues); i += 2 {
			if i+1 >= len(keysAndValues) {
				yield(badKey, keysAndValues[i])
				return
			}

			key, ok := keysAndValues[i].(string)
			if !ok {
				key = fmt.Sprint(keysAndValues[i])
			}
			if !yield(key, keysAndValues[i+1]) {
				return
			}
		}
	}
}

// formatPairs renders key-value arguments as "k=v k=v".
func formatPairs(keysAndValues []any) string {
	var sb strings.Builder
	for key, value := range pairs(keysAndValues) {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s=%v", key, value)
	}

	return sb.String()
}
