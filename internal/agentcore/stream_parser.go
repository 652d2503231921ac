package agentcore

import "strconv"

// extractPartialJSONStringField scans a partial (possibly truncated) JSON
// object for a given field name and returns the raw, still-escaped string
// value if one is found. complete reports whether an unescaped closing
// quote was reached; ok reports whether the field was found at all. The
// scan favors the last occurrence of the key so a buffer holding more than
// one candidate match (e.g. nested duplicate field names) resolves to the
// most recently streamed one.
func extractPartialJSONStringField(buf, field string) (raw string, complete bool, ok bool) {
	key := "\"" + field + "\""
	idx := lastIndex(buf, key)
	if idx == -1 {
		return "", false, false
	}
	i := idx + len(key)
	i = skipJSONSpace(buf, i)
	if i >= len(buf) || buf[i] != ':' {
		return "", false, false
	}
	i++
	i = skipJSONSpace(buf, i)
	if i >= len(buf) || buf[i] != '"' {
		return "", false, false
	}
	start := i + 1
	for i = start; i < len(buf); i++ {
		c := buf[i]
		if c == '\\' {
			if i+1 < len(buf) {
				if buf[i+1] == 'u' {
					if i+6 <= len(buf) {
						i += 5
						continue
					}
					return buf[start:i], false, true
				}
				i++
				continue
			}
			return buf[start:i], false, true
		}
		if c == '"' {
			return buf[start:i], true, true
		}
	}
	return buf[start:], false, true
}

// extractPartialJSONStringArrayField finds a JSON array of strings under
// the given field name within a partial JSON object and returns every
// fully-parsed element encountered so far, tolerating a truncated buffer or
// a missing closing bracket.
func extractPartialJSONStringArrayField(buf, field string) (values []string, complete bool, ok bool) {
	key := "\"" + field + "\""
	idx := lastIndex(buf, key)
	if idx == -1 {
		return nil, false, false
	}
	i := idx + len(key)
	i = skipJSONSpace(buf, i)
	if i >= len(buf) || buf[i] != ':' {
		return nil, false, false
	}
	i++
	i = skipJSONSpace(buf, i)
	if i >= len(buf) || buf[i] != '[' {
		return nil, false, false
	}
	i++
	for i < len(buf) {
		for i < len(buf) {
			c := buf[i]
			if c == ' ' || c == '\n' || c == '\t' || c == '\r' || c == ',' {
				i++
				continue
			}
			break
		}
		if i >= len(buf) {
			return values, false, true
		}
		if buf[i] == ']' {
			return values, true, true
		}
		if buf[i] != '"' {
			return values, false, true
		}
		start := i + 1
		j := start
		for j < len(buf) {
			c := buf[j]
			if c == '\\' {
				if j+1 < len(buf) {
					if buf[j+1] == 'u' {
						if j+6 <= len(buf) {
							j += 6
							continue
						}
						return values, false, true
					}
					j += 2
					continue
				}
				return values, false, true
			}
			if c == '"' {
				raw := buf[start:j]
				values = append(values, decodePartialJSONString(raw))
				j++
				i = j
				break
			}
			j++
		}
		if j >= len(buf) {
			return values, false, true
		}
	}
	return values, false, true
}

// decodePartialJSONString decodes JSON string content (without surrounding
// quotes) while tolerating a truncated trailing escape sequence.
func decodePartialJSONString(s string) string {
	if s == "" {
		return ""
	}
	var b []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b = append(b, c)
			continue
		}
		if i+1 >= len(s) {
			break
		}
		esc := s[i+1]
		switch esc {
		case '"', '\\', '/':
			b = append(b, esc)
			i++
		case 'b':
			b = append(b, '\b')
			i++
		case 'f':
			b = append(b, '\f')
			i++
		case 'n':
			b = append(b, '\n')
			i++
		case 'r':
			b = append(b, '\r')
			i++
		case 't':
			b = append(b, '\t')
			i++
		case 'u':
			if i+6 <= len(s) {
				hex := s[i+2 : i+6]
				if v, err := strconv.ParseInt(hex, 16, 32); err == nil {
					b = append(b, []byte(string(rune(v)))...)
					i += 5
				} else {
					b = append(b, '\\', 'u')
					i++
				}
			} else {
				i = len(s)
			}
		default:
			b = append(b, '\\')
			if i+1 < len(s) {
				b = append(b, esc)
				i++
			}
		}
	}
	return string(b)
}

func skipJSONSpace(buf string, i int) int {
	for i < len(buf) {
		switch buf[i] {
		case ' ', '\n', '\t', '\r':
			i++
			continue
		}
		break
	}
	return i
}

func lastIndex(s, substr string) int {
	for i := len(s) - len(substr); i >= 0; i-- {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// StreamAccumulator tracks the incrementally-decoded "message" string and
// "reasoning" string array inside a tool call's still-streaming argument
// buffer, emitting only the newly-completed suffix/entries to onDelta.
type StreamAccumulator struct {
	onDelta            func(string)
	lastMessage        string
	lastReasoningCount int
}

// NewStreamAccumulator builds a StreamAccumulator that reports incremental
// text to onDelta. onDelta may be nil to disable delta emission entirely.
func NewStreamAccumulator(onDelta func(string)) *StreamAccumulator {
	return &StreamAccumulator{onDelta: onDelta}
}

// Feed processes the full accumulated argument buffer so far (not just the
// newest fragment) and emits any newly observable message/reasoning text.
func (s *StreamAccumulator) Feed(buf string) {
	if s.onDelta == nil {
		return
	}
	s.feedMessage(buf)
	s.feedReasoning(buf)
}

func (s *StreamAccumulator) feedMessage(buf string) {
	raw, _, ok := extractPartialJSONStringField(buf, "message")
	if !ok {
		return
	}
	decoded := decodePartialJSONString(raw)
	if decoded == "" {
		return
	}
	if s.lastMessage == "" {
		s.onDelta(decoded)
		s.lastMessage = decoded
		return
	}
	if len(decoded) >= len(s.lastMessage) && decoded[:len(s.lastMessage)] == s.lastMessage {
		s.onDelta(decoded[len(s.lastMessage):])
		s.lastMessage = decoded
	} else if decoded != s.lastMessage {
		s.onDelta(decoded)
		s.lastMessage = decoded
	}
}

func (s *StreamAccumulator) feedReasoning(buf string) {
	vals, _, ok := extractPartialJSONStringArrayField(buf, "reasoning")
	if !ok {
		return
	}
	if s.lastReasoningCount >= len(vals) {
		return
	}
	for i := s.lastReasoningCount; i < len(vals); i++ {
		v := vals[i]
		if trimmed := trimSpaceFast(v); trimmed != "" {
			s.onDelta("\n" + trimmed)
		}
	}
	s.lastReasoningCount = len(vals)
}

func trimSpaceFast(s string) string {
	start, end := 0, len(s)
	for start < end && isJSONSpaceByte(s[start]) {
		start++
	}
	for end > start && isJSONSpaceByte(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isJSONSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
