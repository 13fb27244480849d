package interpret

import (
	"fmt"
	"strings"
	"time"
)

const systemPrompt = `You convert appointment requests into JSON for a scheduling system.

Reply with exactly one JSON object and nothing else.

When the request can be acted on, reply with:
{"action": "schedule" | "cancel" | "reschedule" | "list",
 "customerName": string, "customerEmail": string, "attendantName": string,
 "date": "YYYY-MM-DD", "time": "HH:MM", "notes": string, "originalDate": "YYYY-MM-DD"}
Omit fields the request does not mention. Use 24-hour time.
For "reschedule", "date" and "time" are the new slot and "originalDate" is the
day of the appointment being moved, when the customer says it.

Scheduling, canceling and rescheduling need the customer's email. If it is
missing, or the request is not about appointments, reply with:
{"success": false, "message": "<one short sentence asking for what is missing>"}
Write the message in the customer's language.`

// PromptContext is the tenant state the model needs to resolve relative
// dates and attendant names.
type PromptContext struct {
	Now        time.Time
	Attendants []string
}

// BuildSystem returns the system blocks for one request.
func BuildSystem(pc PromptContext) []string {
	blocks := []string{systemPrompt}

	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s (%s). Current local time is %s.",
		pc.Now.Format("2006-01-02"), pc.Now.Weekday(), pc.Now.Format("15:04"))
	b.WriteString(" Resolve words like \"tomorrow\" or \"next Monday\" against today.")
	if len(pc.Attendants) > 0 {
		fmt.Fprintf(&b, "\nAttendants: %s.", strings.Join(pc.Attendants, "; "))
	}
	blocks = append(blocks, b.String())
	return blocks
}
