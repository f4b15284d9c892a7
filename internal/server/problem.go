package server

import (
	"encoding/json"
	"net/http"
)

// Problem type URNs.
const (
	ProblemTypeNotFound    = "urn:ztpserver:problem:not-found"
	ProblemTypeBadRequest  = "urn:ztpserver:problem:bad-request"
	ProblemTypeWorkflow    = "urn:ztpserver:problem:workflow-failed"
	ProblemTypeTooLarge    = "urn:ztpserver:problem:payload-too-large"
	ProblemTypeInternal    = "urn:ztpserver:problem:internal-error"
	ProblemTypeRateLimited = "urn:ztpserver:problem:rate-limited"
)

// Problem is an RFC 7807 problem document. Node and State are extension
// members set when a provisioning workflow step failed.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Node     string `json:"node,omitempty"`
	State    string `json:"state,omitempty"`
}

// WriteProblem writes p as application/problem+json.
func WriteProblem(w http.ResponseWriter, p Problem) {
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func problem(typ string, status int, detail, instance string) Problem {
	return Problem{Type: typ, Status: status, Detail: detail, Instance: instance}
}

// NotFound writes a 404 problem response.
func NotFound(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, problem(ProblemTypeNotFound, http.StatusNotFound, detail, instance))
}

// BadRequest writes a 400 problem response.
func BadRequest(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, problem(ProblemTypeBadRequest, http.StatusBadRequest, detail, instance))
}

// InternalError writes a 500 problem response.
func InternalError(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, problem(ProblemTypeInternal, http.StatusInternalServerError, detail, instance))
}

// RateLimited writes a 429 problem response.
func RateLimited(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, problem(ProblemTypeRateLimited, http.StatusTooManyRequests, detail, instance))
}
