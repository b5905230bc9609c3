package kernel

import "context"

// Fake is an in-memory Executor for tests: it has no real Python runtime and
// instead dispatches on a caller-supplied script-to-response table, plus
// tracks Reset calls. It never touches a network or subprocess.
type Fake struct {
	// Responses maps a submitted code string to the Result it should
	// produce. Codes not present yield an empty successful Result.
	Responses map[string]Result

	// Approvals, if set, is consulted before the Result for code is
	// emitted: a PTC approval event fires first, and if it is rejected the
	// configured Result is replaced by one whose text is the
	// "ToolRunnerError: Approval request for <server>_<tool> rejected" line.
	Approvals map[string]ApprovalRequest

	ResetCount int
	ResetErr   error
}

// NewFake returns an empty Fake ready for use.
func NewFake() *Fake {
	return &Fake{Responses: map[string]Result{}, Approvals: map[string]ApprovalRequest{}}
}

func (f *Fake) Execute(ctx context.Context, code string) (<-chan Event, error) {
	ch := make(chan Event, 4)
	go func() {
		defer close(ch)

		if req, ok := f.Approvals[code]; ok {
			decided := make(chan bool, 1)
			req.resolve = func(b bool) { decided <- b }
			select {
			case ch <- Event{Approval: &req}:
			case <-ctx.Done():
				return
			}
			select {
			case approved := <-decided:
				if !approved {
					ch <- Event{Result: &Result{Text: "ToolRunnerError: Approval request for " + req.ServerName + "_" + req.ToolName + " rejected"}}
					return
				}
			case <-ctx.Done():
				return
			}
		}

		result := f.Responses[code]
		if result.Text != "" {
			ch <- Event{Chunk: &Chunk{Text: result.Text}}
		}
		ch <- Event{Result: &result}
	}()
	return ch, nil
}

func (f *Fake) Reset(ctx context.Context) error {
	f.ResetCount++
	return f.ResetErr
}
