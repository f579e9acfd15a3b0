package tools

import (
	"context"
	"encoding/json"
	"math"

	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/proposal"
)

// ProposeFileChangeTool opens a reviewable proposal instead of writing.
type ProposeFileChangeTool struct {
	proposals *proposal.Store
	guard     *pathGuard
}

func (t *ProposeFileChangeTool) Name() string { return "propose_file_change" }
func (t *ProposeFileChangeTool) Description() string {
	return "Proposes an edit to an existing file for the user to review line by line. " +
		"Returns the proposal id and the changed line ranges. " +
		"Args: file_path (string), original_content (string), proposed_content (string), description (string, optional)."
}
func (t *ProposeFileChangeTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "file_path", Type: "string", Description: "File the change applies to.", Required: true},
		{Name: "original_content", Type: "string", Description: "Current full content of the file.", Required: true},
		{Name: "proposed_content", Type: "string", Description: "Full content after the change.", Required: true},
		{Name: "description", Type: "string", Description: "Short summary of the change."},
	}
}

func (t *ProposeFileChangeTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	v, err := requireString("propose_file_change", args, "file_path", "original_content", "proposed_content")
	if err != nil {
		return "", err
	}
	filePath, original, proposed := v[0], v[1], v[2]
	description, _ := stringArg(args, "description")

	if err := t.guard.checkWrite(filePath); err != nil {
		return "", err
	}
	opened, err := t.proposals.Open(ctx, filePath, original, proposed, description)
	if err != nil {
		return "", err
	}

	message := "Change proposal created. Review the diff in the editor and use accept_proposal or reject_proposal to proceed."
	if opened.ID == "" {
		message = "The proposed content is identical to the original. No proposal was created."
	}
	return encodeResult(map[string]interface{}{
		"proposal_id":    opened.ID,
		"file_path":      filePath,
		"changed_ranges": opened.Ranges,
		"message":        message,
	})
}

// AcceptProposalTool applies a whole proposal or a single change range.
type AcceptProposalTool struct {
	proposals *proposal.Store
}

func (t *AcceptProposalTool) Name() string { return "accept_proposal" }
func (t *AcceptProposalTool) Description() string {
	return `Accepts a proposal, writing it to disk. With range {"start":n,"end":n} only that change is applied. Args: proposal_id (string), range (object, optional).`
}
func (t *AcceptProposalTool) Parameters() []Parameter {
	return resolveParameters()
}

func (t *AcceptProposalTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	id, r, err := resolveArgs("accept_proposal", args)
	if err != nil {
		return "", err
	}
	msg, err := t.proposals.Accept(ctx, id, r)
	if err != nil {
		return "", err
	}
	return encodeResult(map[string]interface{}{"success": true, "message": msg})
}

// RejectProposalTool discards a whole proposal or a single change range.
type RejectProposalTool struct {
	proposals *proposal.Store
}

func (t *RejectProposalTool) Name() string { return "reject_proposal" }
func (t *RejectProposalTool) Description() string {
	return `Rejects a proposal without touching the file. With range {"start":n,"end":n} only that change is dropped. Args: proposal_id (string), range (object, optional).`
}
func (t *RejectProposalTool) Parameters() []Parameter {
	return resolveParameters()
}

func (t *RejectProposalTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	id, r, err := resolveArgs("reject_proposal", args)
	if err != nil {
		return "", err
	}
	msg, err := t.proposals.Reject(ctx, id, r)
	if err != nil {
		return "", err
	}
	return encodeResult(map[string]interface{}{"success": true, "message": msg})
}

func resolveParameters() []Parameter {
	return []Parameter{
		{Name: "proposal_id", Type: "string", Description: "Id returned by propose_file_change.", Required: true},
		{Name: "range", Type: "object", Description: `Optional change range {"start":n,"end":n}, inclusive and 0-based.`,
			Properties: []Parameter{
				{Name: "start", Type: "integer", Description: "First changed line.", Required: true},
				{Name: "end", Type: "integer", Description: "Last changed line.", Required: true},
			}},
	}
}

func resolveArgs(tool string, args map[string]interface{}) (string, *proposal.LineRange, error) {
	v, err := requireString(tool, args, "proposal_id")
	if err != nil {
		return "", nil, err
	}
	raw, ok := args["range"]
	if !ok || raw == nil {
		return v[0], nil, nil
	}
	r, err := ParseRange(raw)
	if err != nil {
		return "", nil, err
	}
	return v[0], r, nil
}

// ParseRange decodes a {"start":n,"end":n} object as produced by JSON
// decoding into interface{}.
func ParseRange(raw interface{}) (*proposal.LineRange, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.New(`range must be an object {"start":n,"end":n}`)
	}
	start, err := intField(m, "start")
	if err != nil {
		return nil, err
	}
	end, err := intField(m, "end")
	if err != nil {
		return nil, err
	}
	return &proposal.LineRange{Start: start, End: end}, nil
}

func intField(m map[string]interface{}, name string) (int, error) {
	switch n := m[name].(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, errors.New("range %s must be an integer", name)
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, errors.Wrapf(err, "range %s", name)
		}
		return int(i), nil
	default:
		return 0, errors.New("range %s is missing or not a number", name)
	}
}

func encodeResult(v interface{}) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode result")
	}
	return string(out), nil
}
