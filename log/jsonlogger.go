package log

import (
	"context"
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// JsoniterAPI is shared by the logger and the runtime codec.
// Map keys are sorted so log lines are stable for grep and tests.
var JsoniterAPI = jsoniter.Config{
	EscapeHTML:                    true,
	SortMapKeys:                   true,
	ValidateJsonRawMessage:        true,
	UseNumber:                     false,
	MarshalFloatWith6Digits:       true,
	ObjectFieldMustBeSimpleString: true,
}.Froze()

const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Pool for reusing map[string]any to reduce allocations
var entryPool = sync.Pool{
	New: func() interface{} {
		return make(map[string]any, 16)
	},
}

// Pre-computed level strings to avoid allocations
var levelStrings = [...]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

type jsonLogger struct {
	level  Level
	out    io.Writer
	mu     *sync.Mutex
	fields map[string]any
	now    func() time.Time
}

// New returns a Logger writing one JSON object per line to w.
// A nil writer discards everything.
func New(level Level, w io.Writer) Logger {
	if w == nil {
		w = io.Discard
	}
	return &jsonLogger{level: level, out: w, mu: &sync.Mutex{}, now: time.Now}
}

// Nop returns a Logger that drops every entry.
func Nop() Logger {
	return New(LevelError+1, io.Discard)
}

func (l *jsonLogger) With(args ...any) Logger {
	newFields := parseArgs(args...)
	if len(newFields) == 0 {
		return l
	}

	childFields := make(map[string]any, len(l.fields)+len(newFields))
	for k, v := range l.fields {
		childFields[k] = v
	}
	for k, v := range newFields {
		childFields[k] = v
	}

	// Children share the parent's mutex so lines from both never interleave.
	return &jsonLogger{level: l.level, out: l.out, mu: l.mu, fields: childFields, now: l.now}
}

func (l *jsonLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.With("error", err.Error())
}

func (l *jsonLogger) log(ctx context.Context, level Level, msg string, fields map[string]any) {
	if level < l.level {
		return
	}

	entry := entryPool.Get().(map[string]any)
	defer func() {
		for k := range entry {
			delete(entry, k)
		}
		entryPool.Put(entry)
	}()

	// Precedence: call-site fields, then logger fields, then context fields.
	for k, v := range contextFields(ctx) {
		entry[k] = v
	}
	for k, v := range l.fields {
		entry[k] = v
	}
	for k, v := range fields {
		if err, ok := v.(error); ok && err != nil {
			v = err.Error()
		}
		entry[k] = v
	}
	timestamp := l.now().UTC().Format(timestampLayout)
	entry["timestamp"] = timestamp
	entry["level"] = levelToString(level)
	entry["message"] = msg

	l.mu.Lock()
	defer l.mu.Unlock()

	stream := JsoniterAPI.BorrowStream(l.out)
	defer JsoniterAPI.ReturnStream(stream)

	stream.WriteVal(entry)
	if stream.Error != nil {
		fallback := `{"level":"ERROR","message":"failed to marshal log entry","timestamp":"` + timestamp + `"}` + "\n"
		_, _ = io.WriteString(l.out, fallback)
		return
	}
	stream.WriteRaw("\n")
	_ = stream.Flush()
}

func (l *jsonLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelDebug, msg, parseArgs(args...))
}

func (l *jsonLogger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelInfo, msg, parseArgs(args...))
}

func (l *jsonLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelWarn, msg, parseArgs(args...))
}

func (l *jsonLogger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelError, msg, parseArgs(args...))
}

// levelToString converts a Level to its string representation using pre-computed strings.
func levelToString(level Level) string {
	if level >= 0 && int(level) < len(levelStrings) {
		return levelStrings[level]
	}
	return "INFO"
}

// parseArgs turns alternating key/value pairs, or a single map, into a field map.
// Non-string keys and a trailing key without a value are dropped.
func parseArgs(args ...any) map[string]any {
	if len(args) == 0 {
		return nil
	}

	if len(args) == 1 {
		if m, ok := args[0].(map[string]any); ok {
			return m
		}
	}

	out := make(map[string]any, (len(args)+1)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok {
			out[k] = args[i+1]
		}
	}
	return out
}
