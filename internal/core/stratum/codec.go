package stratum

import (
	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// MaxLineSize caps a single protocol line; longer lines are a protocol
// violation.
const MaxLineSize = 4096

var fastJSON = sonic.ConfigDefault

// EncodeLine marshals msg as a single newline-terminated JSON frame.
func EncodeLine(msg any) ([]byte, error) {
	b, err := fastJSON.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "encode stratum message")
	}
	if len(b)+1 > MaxLineSize {
		return nil, errors.Errorf("stratum message too large: %d bytes", len(b)+1)
	}
	return append(b, '\n'), nil
}

// Handler receives the decoded messages of one protocol line.
type Handler interface {
	OnLogin(msg Login) bool
	OnSolution(msg Solution) bool
	OnResult(msg Result) bool
	OnStratumError(code ResultCode) bool
	OnUnsupportedMethod(method string) bool
}

type envelope struct {
	ID     string `json:"id"`
	Method string `json:"method"`
}

// Dispatch decodes one line and routes it to h. Recoverable errors are
// reported through the handler and do not abort the stream; the return value
// is the handler's.
func Dispatch(line []byte, h Handler) bool {
	var env envelope
	if err := fastJSON.Unmarshal(line, &env); err != nil {
		return h.OnStratumError(BadProtocol)
	}
	if env.ID == "" {
		return h.OnStratumError(BadProtocol)
	}

	switch env.Method {
	case MethodLogin:
		var msg Login
		if err := fastJSON.Unmarshal(line, &msg); err != nil {
			return h.OnStratumError(BadProtocol)
		}
		return h.OnLogin(msg)
	case MethodSolution:
		var msg Solution
		if err := fastJSON.Unmarshal(line, &msg); err != nil {
			return h.OnStratumError(BadProtocol)
		}
		return h.OnSolution(msg)
	case MethodResult:
		var msg Result
		if err := fastJSON.Unmarshal(line, &msg); err != nil {
			return h.OnStratumError(BadProtocol)
		}
		return h.OnResult(msg)
	case MethodJob, MethodCancel:
		return h.OnUnsupportedMethod(env.Method)
	default:
		return h.OnStratumError(BadProtocol)
	}
}
