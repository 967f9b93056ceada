package llm

// Role selects the instruction block appended to every prompt. Each role
// carries its own output contract; the caller checks the contract's
// sentinel tokens, not the role itself.
type Role string

const (
	RoleDeveloper Role = "DEVELOPER"
	RoleReviewer  Role = "REVIEWER"
	RolePRD       Role = "PRD"
	RoleJSON      Role = "JSON"
)

// Sentinel tokens the roles are contracted to emit on success.
const (
	TokenPromiseMet   = "PROMISE_MET"
	TokenReviewPassed = "REVIEW_PASSED"
)

const developerInstructions = `

## OUTPUT FORMAT (MANDATORY)
For every file you create or modify, emit a file block with this exact syntax:

### FILE: relative/path/to/file
` + "```" + `
<full file content>
` + "```" + `

Rules:
- Emit the FULL content of each file. Never use placeholders, ellipses, or
  "rest unchanged" markers.
- Paths are relative to the project root. Never write outside it.
- When the task's promise is fulfilled, write the token ` + TokenPromiseMet + `
  into progress.txt using the same file-block mechanism.`

const reviewerInstructions = `

## REVIEW CONTRACT (MANDATORY)
- If the work satisfies the task, your response MUST BEGIN with ` + TokenReviewPassed + `.
- Otherwise, return specific, actionable feedback describing what is wrong.
- You may emit file blocks (### FILE: path + fenced content) to correct
  small issues yourself.`

const jsonInstructions = `

## OUTPUT FORMAT (MANDATORY)
Output a single JSON value and nothing else. No prose, no markdown fences,
no commentary before or after the JSON.`

// enrich appends the role's instruction block to a prompt.
func (r Role) enrich(prompt string) string {
	switch r {
	case RoleDeveloper:
		return prompt + developerInstructions
	case RoleReviewer:
		return prompt + reviewerInstructions
	case RolePRD, RoleJSON:
		return prompt + jsonInstructions
	default:
		return prompt
	}
}
