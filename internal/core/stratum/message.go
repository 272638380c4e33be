// Package stratum implements the mining side of the wallet: a line-delimited
// JSON protocol that hands proof-of-work jobs to external miners and collects
// their solutions.
package stratum

// Method names carried in the "method" field of every frame.
const (
	MethodLogin    = "login"
	MethodJob      = "job"
	MethodSolution = "solution"
	MethodResult   = "result"
	MethodCancel   = "cancel"
)

// ResultCode is the peer-facing status carried by Result frames.
type ResultCode int

const (
	SolutionAccepted ResultCode = 0
	SolutionRejected ResultCode = 1
	LoginFailed      ResultCode = 2
	BadProtocol      ResultCode = 3
)

func (c ResultCode) String() string {
	switch c {
	case SolutionAccepted:
		return "solution accepted"
	case SolutionRejected:
		return "solution rejected"
	case LoginFailed:
		return "login failed"
	case BadProtocol:
		return "bad protocol"
	}
	return "unknown"
}

// Login is the first frame a miner sends on a fresh connection.
type Login struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	APIKey string `json:"api_key"`
}

func NewLogin(id, apiKey string) Login {
	return Login{ID: id, Method: MethodLogin, APIKey: apiKey}
}

// Job advertises hashing work to a miner. Input is the hex of the 32-byte
// prehashed block header, PoW the hex of the pow template blob.
type Job struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Input  string `json:"input"`
	PoW    string `json:"pow"`
	Height uint64 `json:"height"`
}

func NewJob(id, input, pow string, height uint64) Job {
	return Job{ID: id, Method: MethodJob, Input: input, PoW: pow, Height: height}
}

// Solution is a miner's answer to a job. Nonce is 8 bytes hex, Output the
// solution indices blob.
type Solution struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Nonce  string `json:"nonce"`
	Output string `json:"output"`
}

func NewSolution(jobID, nonce, output string) Solution {
	return Solution{ID: jobID, Method: MethodSolution, Nonce: nonce, Output: output}
}

// Result reports a status code for the request identified by ID.
type Result struct {
	ID     string     `json:"id"`
	Method string     `json:"method"`
	Code   ResultCode `json:"code"`
}

func NewResult(id string, code ResultCode) Result {
	return Result{ID: id, Method: MethodResult, Code: code}
}

// SolutionResult is the accepted-solution form of Result, extended with the
// found block's hash and height.
type SolutionResult struct {
	ID        string     `json:"id"`
	Method    string     `json:"method"`
	Code      ResultCode `json:"code"`
	BlockHash string     `json:"block_hash"`
	Height    uint64     `json:"height"`
}

func NewSolutionResult(jobID, blockHash string, height uint64) SolutionResult {
	return SolutionResult{
		ID:        jobID,
		Method:    MethodResult,
		Code:      SolutionAccepted,
		BlockHash: blockHash,
		Height:    height,
	}
}
