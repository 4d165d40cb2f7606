package decoder

import (
	"encoding/base64"
	"strings"
)

const (
	programLogPrefix  = "Program log: "
	programDataPrefix = "Program data: "
)

// logLine classifies one line of a transaction's log output.
type logLine struct {
	invoke  string // program id of an "invoke" line
	exit    bool   // "success" or "failed" line
	payload string // base64 payload of a data or log line
	isData  bool
}

func classifyLogLine(line string) logLine {
	if rest, ok := strings.CutPrefix(line, programDataPrefix); ok {
		return logLine{payload: strings.TrimSpace(rest), isData: true}
	}
	if rest, ok := strings.CutPrefix(line, programLogPrefix); ok {
		return logLine{payload: strings.TrimSpace(rest)}
	}

	// "Program <id> invoke [<depth>]", "Program <id> success", "Program <id> failed: <reason>"
	rest, ok := strings.CutPrefix(line, "Program ")
	if !ok {
		return logLine{}
	}
	id, tail, ok := strings.Cut(rest, " ")
	if !ok {
		return logLine{}
	}
	switch {
	case strings.HasPrefix(tail, "invoke ["):
		return logLine{invoke: id}
	case tail == "success", strings.HasPrefix(tail, "failed"):
		return logLine{exit: true}
	default:
		return logLine{}
	}
}

// programPayloads walks the log lines with an invocation stack and returns the decoded
// base64 payloads emitted while program is executing, in emission order.
//
// "Program data:" lines are always returned when valid base64. "Program log:" lines
// are returned only when they decode as base64, for programs that emit events through
// msg!. Lines from other programs, including CPIs made by program, are ignored.
func programPayloads(lines []string, program string) [][]byte {
	var (
		stack []string
		out   [][]byte
	)
	for _, line := range lines {
		l := classifyLogLine(line)
		switch {
		case l.invoke != "":
			stack = append(stack, l.invoke)
		case l.exit:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case l.payload != "":
			if len(stack) == 0 || stack[len(stack)-1] != program {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(l.payload)
			if err != nil {
				continue
			}
			if !l.isData && len(raw) < DiscriminatorSize {
				continue
			}
			out = append(out, raw)
		}
	}
	return out
}
