package formatter

import (
	"regexp"
	"strings"

	"github.com/pepeccz/atrevete-orchestrator/internal/fsm"
)

// Violation is one rule firing during the audit of an outbound reply.
type Violation struct {
	Rule     string
	Severity string // "critical" or "warning"
	Detail   string
}

// AuditResult is the outcome of auditing one turn's reply before send.
type AuditResult struct {
	Violations []Violation
	Sanitized  string
}

// Severity reports the audit's overall severity: "critical" if any
// violation is critical, "warning" if only warnings fired, "" if clean.
func (r AuditResult) Severity() string {
	hasWarning := false
	for _, v := range r.Violations {
		if v.Severity == "critical" {
			return "critical"
		}
		hasWarning = true
	}
	if hasWarning {
		return "warning"
	}
	return ""
}

// bookingConfirmationPatterns match Spanish phrasing that claims a
// booking was made. Any match without "book" present in the set of tools
// actually executed this turn is the auditor's primary hallucination
// defense: the model is never trusted to report a booking it didn't run.
var bookingConfirmationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(ya he|he|hemos)\s+(reservado|agendado|creado|confirmado)\s+(tu|su|la)\s+cita`),
	regexp.MustCompile(`(?i)(reservado|agendado|confirmado)\s+(tu|su)\s+cita`),
	regexp.MustCompile(`(?i)cita\s+(está|ha sido)\s+(reservada|agendada|creada|confirmada)`),
	regexp.MustCompile(`(?i)(reserva|cita)\s+(confirmada|reservada|agendada)`),
}

// leakPattern is an infra/identity-disclosure pattern the reply must
// never contain.
type leakPattern struct {
	re     *regexp.Regexp
	reason string
	block  bool
}

var leakPatterns = []leakPattern{
	{regexp.MustCompile(`(?i)my (system\s+)?prompt\s+(is|says|tells|instructs)`), "leak:system_prompt_disclosure", true},
	{regexp.MustCompile(`(?i)my instructions?\s+(are|say|tell|include|require)`), "leak:instructions_disclosure", true},
	{regexp.MustCompile(`(?i)i('m| am) (programmed|instructed|told|designed|configured) to`), "leak:programming_disclosure", true},
	{regexp.MustCompile(`(?i)i('m| am) (a|an) (AI|artificial intelligence|language model|LLM|GPT|Claude|chatbot)\b`), "leak:ai_identity", false},
	{regexp.MustCompile(`(?i)(powered by|built on|running on|using)\s+(Claude|GPT|OpenAI|Anthropic|Bedrock|AWS)`), "leak:tech_stack", true},
	{regexp.MustCompile(`(?i)(api[_\s]?key|secret[_\s]?key|access[_\s]?token|bearer\s+token)\s*[:=]\s*\S+`), "leak:credential", true},
	{regexp.MustCompile(`(?i)(postgres|mysql|redis)://\S+`), "leak:database_url", true},
	{regexp.MustCompile(`(?i)/admin/|/webhooks/|/internal/|/debug/`), "leak:internal_path", true},
}

// hallucinationOverrideReply is the scripted apology the orchestrator
// substitutes for the model's reply the moment the auditor catches it
// claiming a booking that never happened: "technical error, handing to
// staff" in the user's language.
const hallucinationOverrideReply = "Ha habido un error técnico al procesar tu reserva. Te paso con una persona de nuestro equipo para confirmártela enseguida."

// Audit runs every rule against reply for the turn's final FSM state and
// the set of tools the executor actually ran:
//   - rule booked_without_flag: FSM landed in BOOKED but appointmentCreated
//     is false — critical, since BOOKED always implies book() ran.
//   - rule confirmation_without_tool: reply text matches a booking
//     confirmation pattern but "book" is absent from executedTools —
//     critical; this is the primary defense against the model claiming a
//     booking that never happened.
//   - rule flag_outside_booked: appointmentCreated is true but the FSM
//     state is neither BOOKED nor IDLE (post-reset) — warning, since this
//     is inconsistent bookkeeping rather than a user-facing lie.
//   - the infra-leak scan, independent of FSM state.
func Audit(reply string, state fsm.State, appointmentCreated bool, executedTools map[string]bool) AuditResult {
	var violations []Violation
	hallucinated := false

	if state == fsm.StateBooked && !appointmentCreated {
		violations = append(violations, Violation{
			Rule: "booked_without_flag", Severity: "critical",
			Detail: "FSM is in BOOKED but no appointment_created flag was set",
		})
		hallucinated = true
	}

	for _, p := range bookingConfirmationPatterns {
		if p.MatchString(reply) && !executedTools["book"] {
			violations = append(violations, Violation{
				Rule: "confirmation_without_tool", Severity: "critical",
				Detail: "reply claims a booking was made but the book tool did not run",
			})
			hallucinated = true
			break
		}
	}

	if appointmentCreated && state != fsm.StateBooked && state != fsm.StateIdle {
		violations = append(violations, Violation{
			Rule: "flag_outside_booked", Severity: "warning",
			Detail: "appointment_created is set but FSM state is " + string(state),
		})
	}

	sanitized := reply
	shouldBlock := false
	anyLeak := false
	for _, lp := range leakPatterns {
		if lp.re.MatchString(reply) {
			anyLeak = true
			severity := "warning"
			if lp.block {
				severity = "critical"
				shouldBlock = true
			}
			violations = append(violations, Violation{Rule: lp.reason, Severity: severity})
		}
	}
	switch {
	case hallucinated:
		sanitized = hallucinationOverrideReply
	case shouldBlock:
		sanitized = ""
	case anyLeak:
		sanitized = sanitizeIdentityDisclosure(reply)
	}

	return AuditResult{Violations: violations, Sanitized: sanitized}
}

func sanitizeIdentityDisclosure(reply string) string {
	cleaned := regexp.MustCompile(`(?i)[^.!?]*\bi('m| am) (a|an) (AI|artificial intelligence|language model|LLM|GPT|Claude|chatbot)\b[^.!?]*[.!?]?\s*`).ReplaceAllString(reply, "")
	return strings.TrimSpace(cleaned)
}
